package mp

import (
	"encoding/json"
	"fmt"

	"wxharvest/pkg/errors"
)

// BaseResp is the status block of every backend response
type BaseResp struct {
	Ret    int    `json:"ret"`
	ErrMsg string `json:"err_msg"`
}

// ListResponse is the outer listing envelope. PublishPage holds a separately
// encoded JSON document.
type ListResponse struct {
	BaseResp    BaseResp `json:"base_resp"`
	PublishPage string   `json:"publish_page"`
}

// PublishPage is the decoded publish_page payload
type PublishPage struct {
	TotalCount   int            `json:"total_count"`
	PublishCount int            `json:"publish_count"`
	PublishList  []PublishEntry `json:"publish_list"`
}

// PublishEntry is one publish event. PublishInfo is encoded JSON again.
type PublishEntry struct {
	PublishType int    `json:"publish_type"`
	PublishInfo string `json:"publish_info"`
}

// PublishInfo is the decoded publish_info payload
type PublishInfo struct {
	Type     int      `json:"type"`
	AppMsgEx []AppMsg `json:"appmsgex"`
}

// AppMsg is one article of a publish event
type AppMsg struct {
	AID        string `json:"aid"`
	AppMsgID   int64  `json:"appmsgid"`
	ItemIdx    int    `json:"itemidx"`
	Title      string `json:"title"`
	Link       string `json:"link"`
	Digest     string `json:"digest"`
	Cover      string `json:"cover"`
	CreateTime int64  `json:"create_time"`
	UpdateTime int64  `json:"update_time"`
	IsDeleted  bool   `json:"is_deleted"`
}

// PublishTime is update_time, or create_time when the article was never edited
func (m AppMsg) PublishTime() int64 {
	if m.UpdateTime > 0 {
		return m.UpdateTime
	}
	return m.CreateTime
}

// Page is one decoded listing page with its articles flattened in order.
// Entries counts publish_list entries before deleted articles are dropped.
type Page struct {
	TotalCount int
	Entries    int
	Items      []AppMsg
}

// EndOfHistory reports whether the provider returned no publish entries at all
func (p *Page) EndOfHistory() bool {
	return p.Entries == 0 && len(p.Items) == 0
}

// DecodeListResponse decodes both levels of a listing response. A non-zero
// ret becomes a provider protocol error carrying ret and err_msg verbatim.
func DecodeListResponse(data []byte) (*Page, error) {
	var resp ListResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, errors.Wrap(errors.ErrorTypeParsing, err, "failed to decode listing envelope")
	}
	if resp.BaseResp.Ret != 0 {
		return nil, errors.Protocol(resp.BaseResp.Ret, resp.BaseResp.ErrMsg)
	}

	page := &Page{}
	if resp.PublishPage == "" {
		return page, nil
	}

	var pp PublishPage
	if err := json.Unmarshal([]byte(resp.PublishPage), &pp); err != nil {
		return nil, errors.Wrap(errors.ErrorTypeParsing, err, "failed to decode publish_page")
	}
	page.TotalCount = pp.TotalCount
	page.Entries = len(pp.PublishList)

	for i, entry := range pp.PublishList {
		if entry.PublishInfo == "" {
			continue
		}
		var info PublishInfo
		if err := json.Unmarshal([]byte(entry.PublishInfo), &info); err != nil {
			return nil, errors.Wrap(errors.ErrorTypeParsing, err, fmt.Sprintf("failed to decode publish_info of entry %d", i))
		}
		for _, msg := range info.AppMsgEx {
			if msg.IsDeleted {
				continue
			}
			page.Items = append(page.Items, msg)
		}
	}
	return page, nil
}
