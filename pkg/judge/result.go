package judge

const (
	StatusInQueue    = 1
	StatusProcessing = 2
	StatusAccepted   = 3
)

type Status struct {
	ID          int    `json:"id"`
	Description string `json:"description"`
}

// Result is the final state of a job, with output fields already decoded.
type Result struct {
	Token         string
	Status        Status
	Stdout        string
	Stderr        string
	CompileOutput string
	Message       string
	Time          string
	Memory        int
	ExitCode      *int
}

// Terminal reports whether the job has finished, successfully or not.
func (r *Result) Terminal() bool {
	return r.Status.ID != StatusInQueue && r.Status.ID != StatusProcessing
}

func (r *Result) Accepted() bool {
	return r.Status.ID == StatusAccepted
}

type rawResult struct {
	Token         string  `json:"token"`
	Status        *Status `json:"status"`
	Stdout        *string `json:"stdout"`
	Stderr        *string `json:"stderr"`
	CompileOutput *string `json:"compile_output"`
	Message       *string `json:"message"`
	Time          *string `json:"time"`
	Memory        *int    `json:"memory"`
	ExitCode      *int    `json:"exit_code"`
}

func (r rawResult) decode() (*Result, error) {
	out := &Result{Token: r.Token, ExitCode: r.ExitCode}
	if r.Status != nil {
		out.Status = *r.Status
	}
	if r.Time != nil {
		out.Time = *r.Time
	}
	if r.Memory != nil {
		out.Memory = *r.Memory
	}
	for _, f := range []struct {
		name string
		in   *string
		out  *string
	}{
		{"stdout", r.Stdout, &out.Stdout},
		{"stderr", r.Stderr, &out.Stderr},
		{"compile_output", r.CompileOutput, &out.CompileOutput},
		{"message", r.Message, &out.Message},
	} {
		if f.in == nil {
			continue
		}
		v, err := decodeField(f.name, *f.in)
		if err != nil {
			return nil, err
		}
		*f.out = v
	}
	return out, nil
}
