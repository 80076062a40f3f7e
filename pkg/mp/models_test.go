package mp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"wxharvest/pkg/errors"
)

func TestDecodeListResponse(t *testing.T) {
	page, err := DecodeListResponse([]byte(listingBody(article(1, 1700000300), article(2, 1700000200))))
	require.NoError(t, err)

	assert.Equal(t, 42, page.TotalCount)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "2247483601_1", page.Items[0].AID)
	assert.Equal(t, "Article 2", page.Items[1].Title)
	assert.Equal(t, int64(1700000300), page.Items[0].PublishTime())
}

func TestDecodeListResponseProtocolError(t *testing.T) {
	_, err := DecodeListResponse([]byte(`{"base_resp":{"ret":-1,"err_msg":"freq control"},"publish_page":""}`))
	require.Error(t, err)

	var typed *errors.Error
	require.True(t, errors.As(err, &typed))
	assert.Equal(t, errors.ErrorTypeProviderProtocol, typed.Type)
	assert.Equal(t, -1, typed.Code)
	assert.Equal(t, "freq control", typed.Message)
}

func TestDecodeListResponseMalformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"outer", `{"base_resp":`},
		{"publish_page", `{"base_resp":{"ret":0},"publish_page":"{not json"}`},
		{"publish_info", `{"base_resp":{"ret":0},"publish_page":"{\"publish_list\":[{\"publish_info\":\"[\"}]}"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeListResponse([]byte(tt.body))
			assert.True(t, errors.IsType(err, errors.ErrorTypeParsing), "got %v", err)
		})
	}
}

func TestDecodeListResponseEmptyAndDeleted(t *testing.T) {
	page, err := DecodeListResponse([]byte(`{"base_resp":{"ret":0,"err_msg":"ok"},"publish_page":""}`))
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.True(t, page.EndOfHistory())

	deleted := article(3, 1700000000)
	deleted.IsDeleted = true
	page, err = DecodeListResponse([]byte(listingBody(deleted, article(4, 1700000000))))
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "Article 4", page.Items[0].Title)

	page, err = DecodeListResponse([]byte(listingBody(deleted)))
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Equal(t, 1, page.Entries)
	assert.False(t, page.EndOfHistory(), "a batch of deleted articles is not the end of history")
}

func TestPublishTimeFallsBackToCreateTime(t *testing.T) {
	assert.Equal(t, int64(10), AppMsg{CreateTime: 10}.PublishTime())
	assert.Equal(t, int64(20), AppMsg{CreateTime: 10, UpdateTime: 20}.PublishTime())
}

func TestNormalizeFakeID(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"3009413301", "MzAwOTQxMzMwMQ==", false},
		{"MzAwOTQxMzMwMQ==", "MzAwOTQxMzMwMQ==", false},
		{"  MzAwOTQxMzMwMQ== ", "MzAwOTQxMzMwMQ==", false},
		{"aGVsbG8=", "", true},
		{"not base64!", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeFakeID(tt.in)
			if tt.wantErr {
				assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidRequest))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPublishListURL(t *testing.T) {
	u := PublishListURL("https://mp.weixin.qq.com/", "MzAwOTQxMzMwMQ==", "98765", 3)
	assert.Equal(t, "https://mp.weixin.qq.com/cgi-bin/appmsgpublish?"+
		"ajax=1&begin=15&count=5&f=json&fakeid=MzAwOTQxMzMwMQ%3D%3D&lang=zh_CN&sub=list&sub_action=list_ex&token=98765", u)

	assert.Contains(t, PublishListURL(DefaultBaseURL, "x", "t", -2), "begin=0")
}

func TestHomeURL(t *testing.T) {
	assert.Equal(t, "https://mp.weixin.qq.com/cgi-bin/home?lang=zh_CN&t=home%2Findex&token=42",
		HomeURL(DefaultBaseURL, "", "42"))
}
