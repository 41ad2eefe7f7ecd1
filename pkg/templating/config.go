package templating

// TemplateConfig holds all configuration options for the text template backend.
type TemplateConfig struct {
	// MarkdownEnabled controls whether the markdown helper converts its input
	// or returns it escaped as plain text.
	MarkdownEnabled bool

	// WatchEnabled turns on hot reloading of the template directory.
	WatchEnabled bool

	// MaxTemplateSize caps the size in bytes of template content, both for
	// files written through the API and for raw content rendered per request.
	MaxTemplateSize int

	// MaxOutputSize caps the size in bytes of a single render's output.
	// Renders producing more fail instead of being truncated.
	MaxOutputSize int

	// MaxRepeat is the upper bound for the seq helper.
	MaxRepeat int

	// MaxTruncate is the upper bound for the truncate helper's length.
	MaxTruncate int
}

// DefaultConfig returns a TemplateConfig with safe default values.
func DefaultConfig() *TemplateConfig {
	return &TemplateConfig{
		MarkdownEnabled: true,
		WatchEnabled:    true,
		MaxTemplateSize: 256 * 1024,
		MaxOutputSize:   2 * 1024 * 1024,
		MaxRepeat:       1000,
		MaxTruncate:     10_000,
	}
}
