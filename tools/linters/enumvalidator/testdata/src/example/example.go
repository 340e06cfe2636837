package example

type JobStatus string

const (
	JobStatusPending JobStatus = "Pending"
	JobStatusFailed  JobStatus = "Failed"
)

type JobPriority string

const (
	JobPriorityHigh JobPriority = "High"
)

// Label has no constants, so it is free text.
type Label string

type Audit struct {
	Status JobStatus
}

type ScheduledJob struct {
	Audit
	Priority JobPriority
	Label    Label
}

func bad() {
	j := &ScheduledJob{}
	j.Priority = "urgent" // want "enum field Priority assigned string literal"

	_ = ScheduledJob{Priority: "High"} // want "enum field Priority assigned string literal"

	_ = &ScheduledJob{Audit: Audit{Status: "Done"}} // want "enum field Status assigned string literal"
}

func good() {
	j := &ScheduledJob{}
	j.Priority = JobPriorityHigh
	j.Status = JobStatusFailed
	j.Label = "nightly"

	_ = ScheduledJob{Priority: JobPriorityHigh, Label: "batch"}
}

func alsoGood() {
	status := JobStatusPending
	j := &ScheduledJob{Audit: Audit{Status: status}}
	_ = j
}
