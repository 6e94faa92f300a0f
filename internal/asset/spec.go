package asset

// Spec describes one asset produced by a pipeline step.
type Spec struct {
	Key         Key
	Deps        []Key
	Group       string
	Kind        string // compute kind shown to users, e.g. "dlt" or "dbt"
	Description string
	// Step is the name of the step that materializes this asset.
	Step string
}

// DependsOn reports whether the spec lists key among its dependencies.
func (s Spec) DependsOn(key Key) bool {
	for _, d := range s.Deps {
		if d.Equal(key) {
			return true
		}
	}
	return false
}
