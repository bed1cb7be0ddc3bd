package models

// StatusKind is the tag of the synchronization status.
type StatusKind string

const (
	StatusIdle           StatusKind = "idle"
	StatusLoading        StatusKind = "loading"
	StatusSending        StatusKind = "sending"
	StatusUploadingImage StatusKind = "uploading_image"
	StatusSuccess        StatusKind = "success"
	StatusError          StatusKind = "error"
)

// Status is the value the UI binds to. Message is set for success and error,
// Progress (0..1) for uploading_image.
type Status struct {
	Kind     StatusKind
	Message  string
	Progress float64
}

// IsTerminal reports whether the UI must acknowledge the status.
func (s Status) IsTerminal() bool {
	return s.Kind == StatusSuccess || s.Kind == StatusError
}

func (s Status) String() string {
	switch s.Kind {
	case StatusSuccess, StatusError:
		return string(s.Kind) + ": " + s.Message
	default:
		return string(s.Kind)
	}
}
