package http

import (
	"github.com/gofiber/fiber/v2"

	"mailsift/core/port/in"
	"mailsift/pkg/response"
)

// SyncHandler exposes manual sync triggers.
type SyncHandler struct {
	syncSvc in.SyncService
}

func NewSyncHandler(syncSvc in.SyncService) *SyncHandler {
	return &SyncHandler{syncSvc: syncSvc}
}

func (h *SyncHandler) Register(app fiber.Router) {
	app.Post("/sync/:accountID", h.RunSync)
}

// RunSync triggers one synchronous run for the account and returns its
// report. A held lease surfaces as 409; an aborted run is still a 200 with
// the aborted state in the body.
func (h *SyncHandler) RunSync(c *fiber.Ctx) error {
	accountID, err := ParseAccountID(c)
	if err != nil {
		return err
	}

	opts := in.SyncOptions{
		Reenrich: c.QueryBool("reenrich", false),
	}

	report, err := h.syncSvc.RunSync(c.Context(), accountID, opts)
	if err != nil {
		return err
	}
	return response.OK(c, report)
}
