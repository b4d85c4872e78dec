package student_handlers

type LoginRequest struct {
	SID string `json:"sid"`
	Pwd string `json:"pwd"`
}

type Profile struct {
	SID  string `json:"sid"`
	Name string `json:"name"`
	Mail string `json:"mail"`
}

// UpdateProfileRequest replaces the whole user-info slice.
type UpdateProfileRequest struct {
	Name string `json:"name"`
	Mail string `json:"mail"`
}

type ResetPasswordRequest struct {
	OldPwd string `json:"old_pwd"`
	NewPwd string `json:"new_pwd"`
}

// CodespaceInfo is the student-facing view. AccessURL is the workspace
// URL when running, true while starting and false otherwise. Space
// accounting is informational; the fields stay zero until a space quota
// exists.
type CodespaceInfo struct {
	AccessURL  interface{} `json:"access_url"`
	Status     string      `json:"status"`
	TimeQuota  float64     `json:"time_quota"`
	TimeUsed   float64     `json:"time_used"`
	SpaceQuota int64       `json:"space_quota"`
	SpaceUsed  int64       `json:"space_used"`
	LastStart  float64     `json:"last_start"`
	LastStop   float64     `json:"last_stop"`
	LastActive float64     `json:"last_active"`
}
