package model

import (
	"time"
)

// Actor is the authenticated user as reported by the backend.
type Actor struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	Role          string    `json:"role"`
	Image         string    `json:"image,omitempty"`
	EmailVerified bool      `json:"emailVerified"`
	Banned        bool      `json:"banned"`
	CreatedAt     time.Time `json:"createdAt"`
}

type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug,omitempty"`
	Logo      string    `json:"logo,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// SessionInfo is the body of GET /session.
type SessionInfo struct {
	User                 Actor  `json:"user"`
	ActiveOrganizationID string `json:"activeOrganizationId,omitempty"`
}

type Pagination struct {
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Pages int `json:"pages"`
}

type MemberStatus string

const (
	MemberStatusActive    MemberStatus = "active"
	MemberStatusInactive  MemberStatus = "inactive"
	MemberStatusVisitor   MemberStatus = "visitor"
	MemberStatusSuspended MemberStatus = "suspended"
)

type Member struct {
	ID          string       `json:"id"`
	FirstName   string       `json:"firstName"`
	LastName    string       `json:"lastName"`
	Email       string       `json:"email,omitempty"`
	Phone       string       `json:"phone,omitempty"`
	Gender      string       `json:"gender,omitempty"`
	DateOfBirth *time.Time   `json:"dateOfBirth,omitempty"`
	Address     string       `json:"address,omitempty"`
	Status      MemberStatus `json:"status"`
	ServiceIDs  []string     `json:"serviceIds,omitempty"`
	JoinedAt    *time.Time   `json:"joinedAt,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

func (m Member) FullName() string {
	if m.LastName == "" {
		return m.FirstName
	}
	return m.FirstName + " " + m.LastName
}

type MemberInput struct {
	FirstName   string       `json:"firstName" validate:"required,max=100"`
	LastName    string       `json:"lastName" validate:"required,max=100"`
	Email       string       `json:"email,omitempty" validate:"omitempty,email"`
	Phone       string       `json:"phone,omitempty" validate:"omitempty,max=32"`
	Gender      string       `json:"gender,omitempty" validate:"omitempty,oneof=male female"`
	DateOfBirth *time.Time   `json:"dateOfBirth,omitempty"`
	Address     string       `json:"address,omitempty" validate:"omitempty,max=255"`
	Status      MemberStatus `json:"status,omitempty" validate:"omitempty,oneof=active inactive visitor suspended"`
	ServiceIDs  []string     `json:"serviceIds,omitempty"`
}

// MemberUpdate is a partial payload; nil fields are left untouched.
type MemberUpdate struct {
	FirstName   *string       `json:"firstName,omitempty" validate:"omitempty,min=1,max=100"`
	LastName    *string       `json:"lastName,omitempty" validate:"omitempty,min=1,max=100"`
	Email       *string       `json:"email,omitempty" validate:"omitempty,email"`
	Phone       *string       `json:"phone,omitempty" validate:"omitempty,max=32"`
	Gender      *string       `json:"gender,omitempty" validate:"omitempty,oneof=male female"`
	DateOfBirth *time.Time    `json:"dateOfBirth,omitempty"`
	Address     *string       `json:"address,omitempty" validate:"omitempty,max=255"`
	Status      *MemberStatus `json:"status,omitempty" validate:"omitempty,oneof=active inactive visitor suspended"`
	ServiceIDs  []string      `json:"serviceIds,omitempty"`
}

type ChurchService struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	Description string    `json:"description,omitempty"`
	Schedule    string    `json:"schedule,omitempty"`
	LeaderID    string    `json:"leaderId,omitempty"`
	MemberCount int       `json:"memberCount"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type ChurchServiceInput struct {
	Name        string `json:"name" validate:"required,max=150"`
	Type        string `json:"type" validate:"required,oneof=worship youth children choir outreach prayer other"`
	Description string `json:"description,omitempty" validate:"omitempty,max=1000"`
	Schedule    string `json:"schedule,omitempty" validate:"omitempty,max=100"`
	LeaderID    string `json:"leaderId,omitempty"`
}

type ChurchServiceUpdate struct {
	Name        *string `json:"name,omitempty" validate:"omitempty,min=1,max=150"`
	Type        *string `json:"type,omitempty" validate:"omitempty,oneof=worship youth children choir outreach prayer other"`
	Description *string `json:"description,omitempty" validate:"omitempty,max=1000"`
	Schedule    *string `json:"schedule,omitempty" validate:"omitempty,max=100"`
	LeaderID    *string `json:"leaderId,omitempty"`
	Active      *bool   `json:"active,omitempty"`
}

type Minister struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Title      string    `json:"title"`
	Email      string    `json:"email,omitempty"`
	Phone      string    `json:"phone,omitempty"`
	ServiceIDs []string  `json:"serviceIds,omitempty"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type MinisterInput struct {
	Name       string   `json:"name" validate:"required,max=150"`
	Title      string   `json:"title" validate:"required,max=100"`
	Email      string   `json:"email,omitempty" validate:"omitempty,email"`
	Phone      string   `json:"phone,omitempty" validate:"omitempty,max=32"`
	ServiceIDs []string `json:"serviceIds,omitempty"`
}

type MinisterUpdate struct {
	Name       *string  `json:"name,omitempty" validate:"omitempty,min=1,max=150"`
	Title      *string  `json:"title,omitempty" validate:"omitempty,min=1,max=100"`
	Email      *string  `json:"email,omitempty" validate:"omitempty,email"`
	Phone      *string  `json:"phone,omitempty" validate:"omitempty,max=32"`
	ServiceIDs []string `json:"serviceIds,omitempty"`
	Active     *bool    `json:"active,omitempty"`
}

// AdminUser is a system user as managed through the admin screens.
type AdminUser struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Email      string     `json:"email"`
	Role       string     `json:"role"`
	Banned     bool       `json:"banned"`
	BanReason  string     `json:"banReason,omitempty"`
	BanExpires *time.Time `json:"banExpires,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

type AdminUserInput struct {
	Name     string `json:"name" validate:"required,max=150"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,password_policy"`
	Role     string `json:"role" validate:"required"`
}

type AdminUserUpdate struct {
	Name  *string `json:"name,omitempty" validate:"omitempty,min=1,max=150"`
	Email *string `json:"email,omitempty" validate:"omitempty,email"`
}

type BanRequest struct {
	Reason    string        `json:"banReason,omitempty" validate:"omitempty,max=255"`
	ExpiresIn time.Duration `json:"-"`
	// Seconds is what goes over the wire.
	Seconds int64 `json:"banExpiresIn,omitempty"`
}

// UserSession is a backend login session of a system user.
type UserSession struct {
	ID        string    `json:"id"`
	Token     string    `json:"token"`
	UserID    string    `json:"userId"`
	IPAddress string    `json:"ipAddress,omitempty"`
	UserAgent string    `json:"userAgent,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
}

type ActivityLog struct {
	ID         string    `json:"id"`
	ActorID    string    `json:"actorId"`
	ActorName  string    `json:"actorName,omitempty"`
	Action     string    `json:"action"`
	Resource   string    `json:"resource"`
	ResourceID string    `json:"resourceId,omitempty"`
	Details    string    `json:"details,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}
