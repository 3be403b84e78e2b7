package httptransport

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tylaig/msatempmail/internal/domain"
	"github.com/tylaig/msatempmail/internal/service"
)

// saveEmailRequest 邮件服务器插件提交的邮件
//
// to 可以是字符串、对象或它们的数组；from 可以是字符串或对象；
// headers 可以是单值或多值的对象。date 由服务端生成，请求中的值被忽略。
type saveEmailRequest struct {
	From             domain.EnvelopeAddress   `json:"from"`
	To               domain.EnvelopeAddresses `json:"to"`
	Subject          string                   `json:"subject"`
	Body             string                   `json:"body"`
	Text             string                   `json:"text"`
	HTML             string                   `json:"html"`
	ContentType      string                   `json:"contentType"`
	TransferEncoding string                   `json:"transferEncoding"`
	Headers          json.RawMessage          `json:"headers"`
}

type saveEmailResponse struct {
	Success   bool                       `json:"success"`
	Delivered int                        `json:"delivered"`
	Skipped   int                        `json:"skipped"`
	Outcomes  []service.RecipientOutcome `json:"outcomes"`
}

// saveEmail 把邮件服务器收到的邮件投递到收件人邮箱
func (h *Handler) saveEmail(c *gin.Context) {
	var req saveEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	headers := decodeHeaderValues(req.Headers)
	contentType := req.ContentType
	if contentType == "" {
		contentType = firstHeader(headers, "content-type")
	}
	transferEncoding := req.TransferEncoding
	if transferEncoding == "" {
		transferEncoding = firstHeader(headers, "content-transfer-encoding")
	}

	result, err := h.ingest.Ingest(c.Request.Context(), service.IngestInput{
		From:             req.From,
		Recipients:       req.To,
		Subject:          req.Subject,
		Headers:          headers,
		RawBody:          []byte(req.Body),
		ContentType:      contentType,
		TransferEncoding: transferEncoding,
		Text:             req.Text,
		HTML:             req.HTML,
	})
	if err != nil {
		h.log.Warn("save email failed", zap.Error(err))
		respondError(c, err)
		return
	}

	OK(c, saveEmailResponse{
		Success:   true,
		Delivered: result.Delivered,
		Skipped:   result.Skipped,
		Outcomes:  result.Outcomes,
	})
}

// decodeHeaderValues 把邮件头统一为小写键的多值形式，无法识别时返回 nil
func decodeHeaderValues(raw json.RawMessage) map[string][]string {
	if len(raw) == 0 {
		return nil
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil
	}

	out := make(map[string][]string, len(fields))
	for key, value := range fields {
		key = strings.ToLower(key)
		switch v := value.(type) {
		case nil:
		case string:
			out[key] = append(out[key], v)
		case []interface{}:
			for _, item := range v {
				out[key] = append(out[key], fmt.Sprint(item))
			}
		default:
			out[key] = append(out[key], fmt.Sprint(v))
		}
	}
	return out
}

func firstHeader(headers map[string][]string, key string) string {
	if values := headers[key]; len(values) > 0 {
		return values[0]
	}
	return ""
}
