package httptransport

import (
	"errors"
	"io"

	"github.com/gin-gonic/gin"

	"github.com/tylaig/msatempmail/internal/domain"
	"github.com/tylaig/msatempmail/internal/service"
)

type createMailboxRequest struct {
	TTL       int64  `json:"ttl"`       // 秒，留空使用默认值
	LocalPart string `json:"localPart"` // 可选：自定义前缀
	Domain    string `json:"domain"`    // 可选：域名
}

// createMailbox 开通临时邮箱，请求体可以为空
func (h *Handler) createMailbox(c *gin.Context) {
	var req createMailboxRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	out, err := h.mailboxes.Provision(c.Request.Context(), service.ProvisionInput{
		TTLSeconds: req.TTL,
		LocalPart:  req.LocalPart,
		Domain:     req.Domain,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	OK(c, out)
}

// listMessages 返回邮件摘要列表，邮箱过期时 expired 为 true
func (h *Handler) listMessages(c *gin.Context) {
	address := domain.NormalizeAddress(c.Param("address"))
	if _, _, ok := domain.SplitAddress(address); !ok {
		BadRequest(c, MsgInvalidAddress)
		return
	}

	list, err := h.mailboxes.ListMessages(c.Request.Context(), address)
	if err != nil {
		respondError(c, err)
		return
	}

	OK(c, list)
}

// getMessage 返回完整邮件
func (h *Handler) getMessage(c *gin.Context) {
	msg, err := h.mailboxes.GetMessage(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	OK(c, msg)
}

// deleteMailbox 立即删除邮箱
func (h *Handler) deleteMailbox(c *gin.Context) {
	address := domain.NormalizeAddress(c.Param("address"))
	if _, _, ok := domain.SplitAddress(address); !ok {
		BadRequest(c, MsgInvalidAddress)
		return
	}

	if err := h.mailboxes.DeleteMailbox(c.Request.Context(), address); err != nil {
		respondError(c, err)
		return
	}

	OK(c, gin.H{"success": true})
}
