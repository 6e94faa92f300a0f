package pipeline

// DefaultJobName is the job run when none is named.
const DefaultJobName = "fakestore_pipeline"

// Job is a named selection of assets.
type Job struct {
	Name        string
	Description string
	Selection   string
}

// DefaultJob selects every asset.
func DefaultJob() Job {
	return Job{
		Name:        DefaultJobName,
		Description: "Full pipeline: Extract from FakeStore API → Transform with dbt",
		Selection:   SelectAll,
	}
}
