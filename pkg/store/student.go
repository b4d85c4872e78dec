package store

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"

	commonerrors "github.com/Nickchen-PUSH/YatCC-SE/pkg/errors"
)

const (
	MaxSIDLen  = 32
	MaxNameLen = 32
	MaxMailLen = 32
)

type CodespaceStatus string

const (
	StatusStopped  CodespaceStatus = "stopped"
	StatusStarting CodespaceStatus = "starting"
	StatusRunning  CodespaceStatus = "running"
	StatusFailed   CodespaceStatus = "failed"
)

type UserInfo struct {
	Name string `json:"name"`
	Mail string `json:"mail"`
}

// CodespaceInfo is the controller-owned slice of a student record.
// Timestamps are unix seconds; zero means never.
type CodespaceInfo struct {
	Status     CodespaceStatus `json:"status"`
	URL        string          `json:"url"`
	TimeQuota  float64         `json:"time_quota"`
	TimeUsed   float64         `json:"time_used"`
	LastStart  float64         `json:"last_start"`
	LastStop   float64         `json:"last_stop"`
	LastActive float64         `json:"last_active"`
	LastWatch  float64         `json:"last_watch"`
}

type Student struct {
	SID       string        `json:"sid"`
	PwdHash   string        `json:"-"`
	UserInfo  UserInfo      `json:"user_info"`
	Codespace CodespaceInfo `json:"codespace"`
}

func (s *Student) Validate() error {
	if s.SID == "" {
		return commonerrors.NewBadRequest("student id is empty")
	}
	if len(s.SID) > MaxSIDLen {
		return commonerrors.NewRequestEntityTooLargeError(
			fmt.Sprintf("student id exceeds %d bytes", MaxSIDLen))
	}
	if len(s.UserInfo.Name) > MaxNameLen {
		return commonerrors.NewRequestEntityTooLargeError(
			fmt.Sprintf("student name exceeds %d bytes", MaxNameLen))
	}
	if len(s.UserInfo.Mail) > MaxMailLen {
		return commonerrors.NewRequestEntityTooLargeError(
			fmt.Sprintf("student mail exceeds %d bytes", MaxMailLen))
	}
	return nil
}

// ResetPassword replaces the stored verifier. The plaintext is never
// persisted.
func (s *Student) ResetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return commonerrors.NewInternalError(err.Error())
	}
	s.PwdHash = string(hash)
	return nil
}

func (s *Student) CheckPassword(pwd string) bool {
	return bcrypt.CompareHashAndPassword([]byte(s.PwdHash), []byte(pwd)) == nil
}
