package download

// OverwritePolicy decides what Open does when the destination exists.
type OverwritePolicy int

const (
	// ReplaceIfEmpty truncates an existing empty file, refuses a non-empty
	// one and creates a missing one.
	ReplaceIfEmpty OverwritePolicy = iota
	// Replace always creates or truncates.
	Replace
	// CreateExclusive refuses any existing file.
	CreateExclusive
)

func (p OverwritePolicy) String() string {
	switch p {
	case ReplaceIfEmpty:
		return "replace-if-empty"
	case Replace:
		return "replace"
	case CreateExclusive:
		return "create-exclusive"
	default:
		return "unknown"
	}
}

// CleanupPolicy decides whether a File is deleted when it is released.
type CleanupPolicy int

const (
	// CleanupIfEmpty deletes the file only if it is empty on disk at
	// release time.
	CleanupIfEmpty CleanupPolicy = iota
	// CleanupAlways deletes the file on release.
	CleanupAlways
	// CleanupNever keeps the file.
	CleanupNever
)

func (p CleanupPolicy) String() string {
	switch p {
	case CleanupIfEmpty:
		return "if-empty"
	case CleanupAlways:
		return "always"
	case CleanupNever:
		return "never"
	default:
		return "unknown"
	}
}

// ParseOverwritePolicy maps the String form back to a policy.
func ParseOverwritePolicy(s string) (OverwritePolicy, bool) {
	for _, p := range []OverwritePolicy{ReplaceIfEmpty, Replace, CreateExclusive} {
		if p.String() == s {
			return p, true
		}
	}
	return 0, false
}

// ParseCleanupPolicy maps the String form back to a policy.
func ParseCleanupPolicy(s string) (CleanupPolicy, bool) {
	for _, p := range []CleanupPolicy{CleanupIfEmpty, CleanupAlways, CleanupNever} {
		if p.String() == s {
			return p, true
		}
	}
	return 0, false
}
