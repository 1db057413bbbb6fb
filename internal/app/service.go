package app

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"formsync/api/internal/auth"
	"formsync/api/internal/cache"
	"formsync/api/internal/config"
	"formsync/api/internal/export"
	"formsync/api/internal/reconcile"
	"formsync/api/internal/revisions"
	"formsync/api/internal/search"
	"formsync/api/internal/store"
	"formsync/api/internal/util"
)

type Session struct {
	Token     string
	UserID    string
	UserName  string
	Role      string
	JTI       string
	ExpiresAt time.Time
}

type dataStore interface {
	EnsureUserByName(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	ListQuestionTypes(context.Context) ([]store.QuestionType, error)
	ListForms(context.Context, string) ([]store.Form, error)
	GetForm(context.Context, string) (store.Form, error)
	GetFormDetail(context.Context, string) (store.FormDetail, error)
	CreateForm(context.Context, string, reconcile.Entity) (string, error)
	ApplyFormUpdate(context.Context, string, int, reconcile.Update) (int, error)
	DeleteForm(context.Context, string) error
	Ping(ctx context.Context) error
}

type formCache interface {
	GetForm(context.Context, string) (store.FormDetail, error)
	SetForm(context.Context, store.FormDetail) error
	InvalidateForm(context.Context, string) error
	RevokeToken(context.Context, string, time.Time) error
	IsTokenRevoked(context.Context, string) (bool, error)
	Ping(context.Context) error
}

type searchIndex interface {
	Search(context.Context, search.Query) search.Response
	IndexForm(store.FormDetail)
	DeleteForm(string)
}

type revisionLog interface {
	Record(store.FormDetail, string, string) (revisions.Revision, error)
	History(string, int) ([]revisions.Revision, error)
	Snapshot(string, string) (store.FormDetail, revisions.Revision, error)
	Remove(string) error
}

type exporter interface {
	Export(context.Context, store.FormDetail, string, export.Format) (*export.Result, error)
}

type Service struct {
	cfg       config.Config
	store     dataStore
	cache     formCache
	search    searchIndex
	revisions revisionLog
	exporter  exporter
}

// Collaborators are the optional backends the service writes through to.
// A nil Cache disables read-through caching and token revocation.
type Collaborators struct {
	Cache     *cache.RedisCache
	Search    *search.Service
	Revisions *revisions.Service
	Export    *export.Service
}

func New(cfg config.Config, dataStore *store.PostgresStore, c Collaborators) *Service {
	s := &Service{cfg: cfg, store: dataStore}
	if c.Cache != nil {
		s.cache = c.Cache
	}
	if c.Search != nil {
		s.search = c.Search
	}
	if c.Revisions != nil {
		s.revisions = c.Revisions
	}
	if c.Export != nil {
		s.exporter = c.Export
	}
	return s
}

func (s *Service) Login(ctx context.Context, name string) (Session, error) {
	userName := strings.TrimSpace(name)
	if userName == "" {
		userName = "User"
	}

	user, err := s.store.EnsureUserByName(ctx, userName)
	if err != nil {
		return Session{}, err
	}

	jti := util.NewID("jti")
	token, expiresAt, err := auth.IssueToken([]byte(s.cfg.JWTSecret), user.ID, user.DisplayName, user.Role, jti, s.cfg.AccessTTL)
	if err != nil {
		return Session{}, err
	}
	log.Info("session issued", "user", user.ID, "role", user.Role)

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		JTI:       jti,
		ExpiresAt: expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	if s.cache != nil {
		revoked, err := s.cache.IsTokenRevoked(ctx, claims.ID)
		if err != nil {
			return Session{}, err
		}
		if revoked {
			return Session{}, auth.ErrInvalidToken
		}
	}

	user, err := s.store.GetUserByID(ctx, claims.Subject)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		JTI:       claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Logout revokes the session's token until it would have expired anyway.
// Without a cache tokens simply run out.
func (s *Service) Logout(ctx context.Context, session Session) error {
	if s.cache == nil || session.JTI == "" {
		return nil
	}
	return s.cache.RevokeToken(ctx, session.JTI, session.ExpiresAt)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// CachePing reports the cache's health. ok is false when no cache is wired.
func (s *Service) CachePing(ctx context.Context) (ok bool, err error) {
	if s.cache == nil {
		return false, nil
	}
	return true, s.cache.Ping(ctx)
}

func (s *Service) ListQuestionTypes(ctx context.Context) ([]store.QuestionType, error) {
	return s.store.ListQuestionTypes(ctx)
}
