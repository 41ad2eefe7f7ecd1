/*
Package dom provides the mount targets that rendered templates are written into.

A Container owns one element subtree per rendering instance. Writes always
replace the entire subtree, and any activation handlers bound to the previous
content are dropped with it. Activating an element runs its bound handler and,
unless the handler prevented it, performs the default navigation through the
container's Navigator.

Containers render to HTML directly or through templ so that host pages can
embed them.
*/
package dom
