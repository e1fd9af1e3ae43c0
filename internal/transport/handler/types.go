package handler

type UploadImageParams struct {
	ModelID string `validate:"required,max=64"`  // model_images.model_id
	Slug    string `validate:"required,max=255"` // rides into the optimization job for subscribers
}

type UpdateOrderParams struct {
	SortOrder int `json:"sort_order" validate:"required,gte=1"`
}

type ReprocessParams struct {
	Slug string `json:"slug" validate:"required,max=255"`
}
