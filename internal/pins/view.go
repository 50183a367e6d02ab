package pins

// createdAtLayout is RFC 3339 with millisecond precision.
const createdAtLayout = "2006-01-02T15:04:05.000Z07:00"

// View is the wire representation of a pin shared by the HTTP API and the
// live feed.
type View struct {
	PinID       int64   `json:"pinID"`
	UserID      int64   `json:"userID"`
	Username    string  `json:"username"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	Description string  `json:"description"`
	ImageURL    *string `json:"imageUrl"`
	CreatedAt   string  `json:"createdAt"`
}

// NewView renders a pin for clients.
func NewView(pin Pin, username string) View {
	return View{
		PinID:       pin.PinID,
		UserID:      pin.OwnerID,
		Username:    username,
		Lat:         pin.Lat,
		Lng:         pin.Lng,
		Description: pin.Description,
		ImageURL:    pin.ImageURL,
		CreatedAt:   pin.CreatedAt().Format(createdAtLayout),
	}
}
