package api

// BatchReq asks a worker to evaluate a batch of runs. Updates for the batch
// are published to ReplySubj; the worker listens for kills on KillSubj.
type BatchReq struct {
	BatchUuid string   `json:"batch_uuid"`
	ReplySubj string   `json:"reply_subj"`
	KillSubj  string   `json:"kill_subj"`
	Runs      []RunReq `json:"runs"`
}

type RunReq struct {
	Instance  string  `json:"instance"`
	Specifics string  `json:"specifics,omitempty"`
	Seed      int64   `json:"seed"`
	Cutoff    float64 `json:"cutoff"`

	// ConfigKey identifies the configuration; ConfigArgs is how the target
	// algorithm wrapper receives it.
	ConfigKey  string   `json:"config_key"`
	ConfigArgs []string `json:"config_args"`

	Profile Profile `json:"profile"`
}

type Profile struct {
	Executable    string  `json:"executable"`
	WorkDir       string  `json:"work_dir"`
	Deterministic bool    `json:"deterministic"`
	CutoffMax     float64 `json:"cutoff_max"`
}
