package authapi

import (
	"net/http"

	"github.com/arclabs/arcgate/pkg/httperr"
)

type captchaResponse struct {
	CaptchaID string `json:"captcha_id"`
	Image     string `json:"image"`
}

// handleCaptcha issues a fresh challenge as a base64 PNG.
func (s *server) handleCaptcha(w http.ResponseWriter, r *http.Request) {
	id, image, err := s.captcha.Generate(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Failed to generate captcha")
		httperr.Write(w, requestID(r), httperr.ErrInternal)

		return
	}

	writeJSON(w, http.StatusOK, captchaResponse{
		CaptchaID: id,
		Image:     image,
	})
}
