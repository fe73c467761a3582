package cli

// Tree drawing characters
const (
	TreeBranch     = "├─"
	TreeLastBranch = "└─"
)

// Status indicators
const (
	CheckMark = "✓"
	CrossMark = "✗"
	Bullet    = "●"
	Circle    = "○"
	HalfMoon  = "◐"
	Pause     = "◌"
	Diamond   = "◆"
)

// StatusIcons maps task statuses to indicators.
var StatusIcons = map[string]string{
	"pending":     Circle,
	"in_progress": HalfMoon,
	"completed":   CheckMark,
	"blocked":     CrossMark,
	"review":      Diamond,
	"deferred":    Pause,
	"cancelled":   CrossMark,
}
