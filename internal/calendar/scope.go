package calendar

import (
	"fmt"
	"strings"
)

type ScopeKind string

const (
	ScopeOwner   ScopeKind = "owner"
	ScopeCompany ScopeKind = "company"
)

// Scope is the visibility boundary of a view: the events assigned to one user,
// or the events of one company. A view never mixes the two.
type Scope struct {
	Kind ScopeKind
	ID   string
}

func OwnerScope(userID string) Scope      { return Scope{Kind: ScopeOwner, ID: userID} }
func CompanyScope(companyID string) Scope { return Scope{Kind: ScopeCompany, ID: companyID} }

// ParseScope parses the `kind:id` form produced by Key.
func ParseScope(raw string) (Scope, error) {
	kind, id, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok || strings.TrimSpace(id) == "" {
		return Scope{}, fmt.Errorf("scope %q must be owner:<id> or company:<id>", raw)
	}
	s := Scope{Kind: ScopeKind(kind), ID: strings.TrimSpace(id)}
	if err := s.Validate(); err != nil {
		return Scope{}, err
	}
	return s, nil
}

func (s Scope) Validate() error {
	if s.Kind != ScopeOwner && s.Kind != ScopeCompany {
		return fmt.Errorf("unknown scope kind %q", s.Kind)
	}
	if s.ID == "" {
		return fmt.Errorf("%s scope needs an id", s.Kind)
	}
	return nil
}

// Key is the stable string form, also used as the change-feed shard key.
func (s Scope) Key() string {
	return string(s.Kind) + ":" + s.ID
}

func (s Scope) String() string { return s.Key() }

// Matches reports whether e is visible in s.
func (s Scope) Matches(e Event) bool {
	switch s.Kind {
	case ScopeOwner:
		return e.OwnerID == s.ID
	case ScopeCompany:
		return e.CompanyID == s.ID
	default:
		return false
	}
}

// ScopeOf returns the scope an event belongs to.
func ScopeOf(e Event) Scope {
	if e.CompanyID != "" {
		return CompanyScope(e.CompanyID)
	}
	return OwnerScope(e.OwnerID)
}

// Assign stamps the scope onto a draft. A company draft keeps its assignee.
func (s Scope) Assign(d Draft) Draft {
	if s.Kind == ScopeCompany {
		d.CompanyID = s.ID
		return d
	}
	d.OwnerID, d.CompanyID = s.ID, ""
	return d
}

// Filter selects events from a store: always by scope, optionally by day.
type Filter struct {
	Scope     Scope
	StartDate string
}
