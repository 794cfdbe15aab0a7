package target

type CreateTargetRequest struct {
	OwnerID     string `json:"owner_id" validate:"required,uuid"`
	URL         string `json:"url" validate:"required,url"`
	AlertEmail  string `json:"alert_email" validate:"omitempty,email"`
	CooldownMin int32  `json:"cooldown_min" validate:"gte=0"`
	AlertAfter  int32  `json:"alert_after" validate:"gte=0"`
}

type SetEnabledRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}
