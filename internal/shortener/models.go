package shortener

const statusSuccess = "success"

// APIResponse is the body returned by shortener services with the
// "/api?api=KEY&url=URL" interface.
type APIResponse struct {
	Status       string `json:"status"`
	ShortenedURL string `json:"shortenedUrl"`
	Message      string `json:"message"`
}
