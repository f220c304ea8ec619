package echoapi

import (
	"github.com/go-playground/validator/v10"

	"github.com/ahmed-matloob-prog/skill-lab-web-sub005/core"
)

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (r *LoginRequest) Validate(validate *validator.Validate) error {
	r.Username = core.CleanString(r.Username, true /* lower */)
	return validate.Struct(r)
}

type LoginResponse struct {
	Token string `json:"token"`
}

type DestroyMultipleRequest struct {
	IDs []string `query:"id"`
}

type RetryResponse struct {
	Acked int `json:"acked"`
}

type StateResponse struct {
	States map[string]string `json:"states"`
}
