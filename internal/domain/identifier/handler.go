package identifier

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/medrecords/internal/platform/auth"
	"github.com/ehr/medrecords/internal/platform/hipaa"
)

// Vault is the part of hipaa.Vault the identifier endpoints use.
type Vault interface {
	Seal(plaintext string) (hipaa.Sealed, error)
	Decrypt(sealed string) (string, error)
}

type Handler struct {
	vault Vault
}

func NewHandler(vault Vault) *Handler {
	return &Handler{vault: vault}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/aadhaar", auth.RequireAuthenticated())
	g.POST("/encrypt", h.Encrypt)
	g.POST("/decrypt", h.Decrypt)
	g.POST("/mask", h.Mask)
}

type plainRequest struct {
	Aadhaar *string `json:"aadhaar"`
}

type sealedRequest struct {
	Encrypted *string `json:"encrypted"`
}

type EncryptResponse struct {
	Encrypted string `json:"encrypted"`
	Masked    string `json:"masked"`
	Hash      string `json:"hash"`
}

type DecryptResponse struct {
	Aadhaar   string `json:"aadhaar"`
	Formatted string `json:"formatted"`
}

type MaskResponse struct {
	Masked string `json:"masked"`
}

func (h *Handler) Encrypt(c echo.Context) error {
	plain, err := bindPlain(c)
	if err != nil {
		return err
	}
	sealed, err := h.vault.Seal(plain)
	if err != nil {
		return httpError(err)
	}
	masked, err := hipaa.Mask(plain)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, EncryptResponse{
		Encrypted: sealed.Ciphertext,
		Masked:    masked,
		Hash:      sealed.BlindIndex,
	})
}

func (h *Handler) Decrypt(c echo.Context) error {
	var req sealedRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Encrypted == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "encrypted field is required")
	}
	plain, err := h.vault.Decrypt(*req.Encrypted)
	if err != nil {
		return httpError(err)
	}
	formatted, err := hipaa.Format(plain)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, DecryptResponse{Aadhaar: plain, Formatted: formatted})
}

func (h *Handler) Mask(c echo.Context) error {
	plain, err := bindPlain(c)
	if err != nil {
		return err
	}
	masked, err := hipaa.Mask(plain)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, MaskResponse{Masked: masked})
}

func bindPlain(c echo.Context) (string, error) {
	var req plainRequest
	if err := c.Bind(&req); err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Aadhaar == nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, "aadhaar field is required")
	}
	return *req.Aadhaar, nil
}

// httpError maps vault errors to 400. Integrity failures share one message
// so callers learn nothing about why decryption failed.
func httpError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, hipaa.ErrInvalidFormat):
		return echo.NewHTTPError(http.StatusBadRequest, hipaa.ErrInvalidFormat.Error())
	case errors.Is(err, hipaa.ErrIntegrityFailure):
		return echo.NewHTTPError(http.StatusBadRequest, "decryption failed")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
}
