package evolution

// Agent is the surface the loader needs from a live agent instance.
// Delegation to the underlying runtime object goes through these named
// methods only; there is no dynamic attribute passthrough.
type Agent interface {
	Role() string
	Backstory() string
	SetBackstory(backstory string)
	Tools() []string
	SetTools(tools []string)
	// SetContext attaches a named block of additional context text.
	SetContext(key, value string)
}
