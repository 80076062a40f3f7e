package mp

import (
	"encoding/json"
	"fmt"
)

// listingBody builds a listing response with one publish entry per article
func listingBody(msgs ...AppMsg) string {
	entries := make([]PublishEntry, 0, len(msgs))
	for _, m := range msgs {
		info, _ := json.Marshal(PublishInfo{Type: 9, AppMsgEx: []AppMsg{m}})
		entries = append(entries, PublishEntry{PublishType: 101, PublishInfo: string(info)})
	}
	page, _ := json.Marshal(PublishPage{TotalCount: 42, PublishCount: len(msgs), PublishList: entries})
	out, _ := json.Marshal(ListResponse{PublishPage: string(page)})
	return string(out)
}

func article(n int, ts int64) AppMsg {
	return AppMsg{
		AID:        fmt.Sprintf("22474836%02d_1", n),
		Title:      fmt.Sprintf("Article %d", n),
		Link:       fmt.Sprintf("https://mp.weixin.qq.com/s/a%d", n),
		Digest:     "digest",
		Cover:      "https://mmbiz.qpic.cn/cover.jpg",
		CreateTime: ts - 60,
		UpdateTime: ts,
	}
}
