package models

// View names a read path. Each entity decides which of its optional fields a
// view needs before a cached copy counts as a hit.
type View int

const (
	// ViewSummary is satisfied by anything a list call returns.
	ViewSummary View = iota
	// ViewDetail needs the fields only a by-id read returns.
	ViewDetail
	// ViewAdmins needs the admin set (spaces only).
	ViewAdmins
)

func (v View) String() string {
	switch v {
	case ViewSummary:
		return "summary"
	case ViewDetail:
		return "detail"
	case ViewAdmins:
		return "admins"
	}
	return "unknown"
}
