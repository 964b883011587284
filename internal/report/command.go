package report

// ActionRequest is the body of every POST /containers/* command sent to an
// agent command server. Fields beyond container_id apply only to the actions
// that use them.
type ActionRequest struct {
	ContainerID  string `json:"container_id"`
	Timeout      int    `json:"timeout,omitempty"`
	Command      string `json:"command,omitempty"`
	Workdir      string `json:"workdir,omitempty"`
	Lines        int    `json:"lines,omitempty"`
	SinceSeconds int    `json:"since_seconds,omitempty"`
}

// ActionResponse answers start/stop/restart commands.
type ActionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ExecResponse answers an exec command.
type ExecResponse struct {
	Success  bool   `json:"success"`
	ExitCode int    `json:"exit_code"`
	Output   string `json:"output"`
	Error    string `json:"error,omitempty"`
}

// StatsResponse answers a stats command with a one-shot resource sample.
type StatsResponse struct {
	Success bool              `json:"success"`
	Stats   *ContainerMetrics `json:"stats,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// LogsResponse answers a live log fetch.
type LogsResponse struct {
	Success bool       `json:"success"`
	Logs    []LogEntry `json:"logs"`
	Error   string     `json:"error,omitempty"`
}

// ContainerSummary is one row of the agent's GET /containers listing.
type ContainerSummary struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Status ContainerStatus `json:"status"`
}

// ContainerListResponse answers GET /containers on the agent.
type ContainerListResponse struct {
	Containers []ContainerSummary `json:"containers"`
}
