package admin_handlers

type CreateStudentRequest struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Mail      string  `json:"mail"`
	Pwd       string  `json:"pwd"`
	TimeQuota float64 `json:"time_quota"`
}

type StudentBrief struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Mail string `json:"mail"`
}

type StudentDetail struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Mail       string  `json:"mail"`
	Status     string  `json:"status"`
	URL        string  `json:"url"`
	TimeQuota  float64 `json:"time_quota"`
	TimeUsed   float64 `json:"time_used"`
	LastStart  float64 `json:"last_start"`
	LastStop   float64 `json:"last_stop"`
	LastActive float64 `json:"last_active"`
	LastWatch  float64 `json:"last_watch"`
}

type FailedEntry struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// CreateStudentsResult is the enrollment envelope: a brief per enrolled
// student and a reason per rejected one.
type CreateStudentsResult struct {
	Success []StudentBrief `json:"success"`
	Failed  []FailedEntry  `json:"failed"`
}

func newCreateStudentsResult() *CreateStudentsResult {
	return &CreateStudentsResult{Success: []StudentBrief{}, Failed: []FailedEntry{}}
}

func (r *CreateStudentsResult) ok(brief StudentBrief) {
	r.Success = append(r.Success, brief)
}

func (r *CreateStudentsResult) fail(id string, err error) {
	r.Failed = append(r.Failed, FailedEntry{ID: id, Reason: err.Error()})
}

// BatchResult is the envelope of the other batch endpoints: ids that
// went through and ids that did not, each with its reason.
type BatchResult struct {
	Success []string      `json:"success"`
	Failed  []FailedEntry `json:"failed"`
}

func newBatchResult() *BatchResult {
	return &BatchResult{Success: []string{}, Failed: []FailedEntry{}}
}

func (r *BatchResult) ok(id string) {
	r.Success = append(r.Success, id)
}

func (r *BatchResult) fail(id string, err error) {
	r.Failed = append(r.Failed, FailedEntry{ID: id, Reason: err.Error()})
}

// BatchCodespaceRequest carries the target ids of a batch start or stop.
type BatchCodespaceRequest struct {
	IDs []string `json:"ids"`
}

// DeleteStudentEntry is one item of the batch delete body.
type DeleteStudentEntry struct {
	SID string `json:"sid"`
}

type CodespaceView struct {
	Status     string  `json:"status"`
	URL        string  `json:"url"`
	TimeQuota  float64 `json:"time_quota"`
	TimeUsed   float64 `json:"time_used"`
	LastStart  float64 `json:"last_start"`
	LastStop   float64 `json:"last_stop"`
	LastActive float64 `json:"last_active"`
	LastWatch  float64 `json:"last_watch"`
}

// QuotaRequest carries both quotas; space_quota is accepted but not
// enforced until space accounting exists.
type QuotaRequest struct {
	TimeQuota  float64 `json:"time_quota"`
	SpaceQuota int64   `json:"space_quota"`
}

type APIKeyRequest struct {
	APIKey string `json:"api_key"`
}
