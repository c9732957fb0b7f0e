package viewer

// ResultKind says what a render produced.
type ResultKind int

const (
	// ResultImage is an encoded PNG cross-section.
	ResultImage ResultKind = iota
	// ResultScene is a self-contained HTML scene document.
	ResultScene
)

// Result is a typed render outcome. The display layer picks the
// presentation from the kind instead of inspecting bytes.
type Result struct {
	Kind ResultKind
	Data []byte
}

// ContentType returns the HTTP media type for the result kind.
func (r Result) ContentType() string {
	if r.Kind == ResultScene {
		return "text/html; charset=utf-8"
	}
	return "image/png"
}
