// Package web is the HTTP surface: the check-now and notification
// action entry points, the sync trigger, reminder CRUD for UI sessions
// and the live event stream.
package web

import (
	"context"
	"crypto/subtle"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/keyauth"
	"github.com/google/uuid"
	"github.com/jmhodges/clock"
	"go.uber.org/zap"

	"remindly/action"
	"remindly/engine"
	"remindly/notify"
	"remindly/reminder"
	"remindly/sessions"
	"remindly/store"
	"remindly/syncbridge"
)

const checkTimeout = 30 * time.Second

type Server struct {
	App *fiber.App

	store   store.Store
	engine  *engine.Engine
	actions *action.Handler
	bridge  *syncbridge.Bridge
	hub     *sessions.Hub
	clk     clock.Clock
	log     *zap.SugaredLogger
}

// New assembles the fiber app. bridge may be nil when no remote
// collaborator is configured. A non-empty apiKey puts every route but
// the health check behind bearer auth.
func New(apiKey string, s store.Store, e *engine.Engine, a *action.Handler, b *syncbridge.Bridge, hub *sessions.Hub, clk clock.Clock, log *zap.SugaredLogger) *Server {
	srv := &Server{
		App:     fiber.New(fiber.Config{DisableStartupMessage: true}),
		store:   s,
		engine:  e,
		actions: a,
		bridge:  b,
		hub:     hub,
		clk:     clk,
		log:     log,
	}
	srv.registerRoutes(apiKey)
	return srv
}

func (s *Server) registerRoutes(apiKey string) {
	s.App.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	if apiKey != "" {
		s.App.Use(keyauth.New(keyauth.Config{
			Validator: func(c *fiber.Ctx, key string) (bool, error) {
				if subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) == 1 {
					return true, nil
				}
				return false, keyauth.ErrMissingOrMalformedAPIKey
			},
		}))
	}

	api := s.App.Group("/api")
	api.Post("/reminders/check", s.checkNow)
	api.Post("/notifications/action", s.notificationAction)
	api.Post("/sync", s.sync)
	api.Get("/events", s.hub.Handle)
	api.Get("/reminders", s.listReminders)
	api.Post("/reminders", s.createReminder)
	api.Delete("/reminders/:id", s.deleteReminder)
}

// checkNow triggers a due-scan and replies once it finished.
func (s *Server) checkNow(c *fiber.Ctx) error {
	// The scan outlives the request context if the caller gives up.
	ack := make(chan struct{})
	s.engine.CheckNow(context.Background(), ack)

	select {
	case <-ack:
		return c.JSON(fiber.Map{"type": "CHECKED"})
	case <-time.After(checkTimeout):
		return fiber.NewError(fiber.StatusGatewayTimeout, "scan did not finish in time")
	}
}

// notificationAction is invoked by the platform when the user interacts
// with a displayed alert.
func (s *Server) notificationAction(c *fiber.Ctx) error {
	var req struct {
		Action string          `json:"action"`
		Data   notify.Metadata `json:"data"`
	}
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
	}

	if err := s.actions.Handle(c.UserContext(), req.Action, req.Data); err != nil {
		s.log.Errorw("notification action failed", "action", req.Action, "err", err)
		return fiber.NewError(fiber.StatusInternalServerError, "action failed")
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// sync runs one bridge pass. Sync failures are not surfaced to the user
// beyond the import count; the next trigger retries naturally.
func (s *Server) sync(c *fiber.Ctx) error {
	if s.bridge == nil {
		return fiber.NewError(fiber.StatusNotImplemented, "no remote collaborator configured")
	}

	imported, err := s.bridge.Sync(c.UserContext())
	if err != nil {
		s.log.Warnw("sync failed", "err", err)
	}

	return c.JSON(fiber.Map{"imported": imported})
}

func (s *Server) listReminders(c *fiber.Ctx) error {
	rs, err := s.store.GetAll(c.UserContext())
	if err != nil {
		s.log.Errorw("failed listing reminders", "err", err)
		return fiber.NewError(fiber.StatusInternalServerError, "failed listing reminders")
	}
	if rs == nil {
		rs = []reminder.Reminder{}
	}

	return c.JSON(fiber.Map{"reminders": rs})
}

func (s *Server) createReminder(c *fiber.Ctx) error {
	var req struct {
		Title       string              `json:"title"`
		Description string              `json:"description"`
		NextFireAt  int64               `json:"nextFireAt"`
		Repeat      reminder.Repeat     `json:"repeat"`
		IntervalMs  int64               `json:"intervalMs"`
		FollowUps   []reminder.FollowUp `json:"followUps"`
	}
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
	}
	if req.Title == "" {
		return fiber.NewError(fiber.StatusBadRequest, "title is required")
	}
	if req.Repeat == "" {
		req.Repeat = reminder.RepeatNone
	}

	r := reminder.Reminder{
		ID:          uuid.New().String(),
		Title:       req.Title,
		Description: req.Description,
		NextFireAt:  req.NextFireAt,
		Repeat:      req.Repeat,
		IntervalMs:  req.IntervalMs,
		FollowUps:   req.FollowUps,
		Enabled:     true,
		CreatedAt:   s.clk.Now().UnixMilli(),
	}

	committed, err := s.store.Put(c.UserContext(), r)
	if err != nil {
		s.log.Errorw("failed creating reminder", "err", err)
		return fiber.NewError(fiber.StatusInternalServerError, "failed creating reminder")
	}

	return c.Status(fiber.StatusCreated).JSON(committed)
}

func (s *Server) deleteReminder(c *fiber.Ctx) error {
	err := s.store.Delete(c.UserContext(), c.Params("id"))
	switch {
	case err == store.ErrNotFound:
		return fiber.NewError(fiber.StatusNotFound, "no such reminder")
	case err != nil:
		s.log.Errorw("failed deleting reminder", "err", err)
		return fiber.NewError(fiber.StatusInternalServerError, "failed deleting reminder")
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// Listen blocks serving HTTP on addr.
func (s *Server) Listen(addr string) error {
	return s.App.Listen(addr)
}
