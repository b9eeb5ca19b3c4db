package middleware

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/prayersync/internal/model"
)

// ErrorResponseBody は /api 配下が返すエラーのJSON本体。
// サイトのビルドや表示端末が code で分岐できるよう、文言とは別にコードを持つ。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse はapiErrをErrorResponseBodyとして書き込む。エラー応答はキャッシュさせない。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteRetryLater は一時的なエラー（429/503）をRetry-After付きで書き込む。
// retryAfterは秒に切り上げ、最低1秒とする。
func WriteRetryLater(w http.ResponseWriter, statusCode int, retryAfter time.Duration, apiErr *model.APIError) {
	seconds := int(math.Ceil(retryAfter.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	WriteErrorResponse(w, statusCode, apiErr)
}

// WriteInternalServerError は500を書き込む。原因はログにだけ残す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
}
