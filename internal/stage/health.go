package stage

// Health reports whether the handler for one artifact type can run. Detail
// names the missing tool or misconfiguration when Ready is false.
type Health struct {
	Name   string
	Ready  bool
	Detail string
}

func Healthy(artifactType string) Health {
	return Health{Name: artifactType, Ready: true}
}

// Unhealthy marks artifactType unavailable. Jobs of that type still queue;
// they fail at execution with the same detail.
func Unhealthy(artifactType, detail string) Health {
	return Health{Name: artifactType, Detail: detail}
}
