/*
Package templating provides the filesystem-backed html/template engine that
renders Sundew's text templates, and the Backend that plugs it and the card
renderer into the rendering engine.

Templates live in a directory as full templates (*.tmpl.html) and partials
(*.part.html). Raw template content sent with a render request is parsed
against a clean clone of that set, so it can call any stored partial. A small
helper library is available to templates: text helpers (markdown, highlight,
truncate, join, toJSON, formatDate), control helpers (seq, list, dict,
default, isSet, first) and integer arithmetic that accepts decoded JSON
numbers. All helpers are bounded by TemplateConfig limits.

The directory can be hot reloaded with Watch, and templates can be read,
written (after a parse check, atomically) and deleted through the manager.
*/
package templating
