package internal

import (
	"bitwise74/captcha-gateway/internal/access"
	"bitwise74/captcha-gateway/internal/model"
	"bitwise74/captcha-gateway/internal/service"
	"bitwise74/captcha-gateway/internal/solver"
	"bitwise74/captcha-gateway/internal/store"

	"gorm.io/gorm"
)

// AdminSeed is the optional user created by the setup endpoint
type AdminSeed struct {
	Name  string
	Email string
}

type Deps struct {
	DB        *gorm.DB
	Settings  *store.SettingsStore
	Users     *store.UserStore
	Keys      *store.KeyStore
	Tasks     *store.TaskStore
	Gate      *access.Gate
	Solver    *solver.Client
	Binder    *service.Binder
	Submitter *service.Submitter
	Admin     AdminSeed
}

// NewDeps wires the stores and workflows on top of db. archiver may be nil
func NewDeps(db *gorm.DB, defaults model.Settings, s *solver.Client, archiver service.Archiver) *Deps {
	d := &Deps{
		DB:       db,
		Settings: store.NewSettingsStore(db, defaults),
		Users:    store.NewUserStore(db),
		Keys:     store.NewKeyStore(db),
		Tasks:    store.NewTaskStore(db),
		Solver:   s,
	}

	d.Gate = access.NewGate(d.Settings, d.Users, d.Keys)
	d.Binder = service.NewBinder(d.Keys)
	d.Submitter = service.NewSubmitter(d.Gate, s, d.Tasks, archiver)

	return d
}
