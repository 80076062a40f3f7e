package mp

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultBaseURL is the official-account backend
	DefaultBaseURL = "https://mp.weixin.qq.com"

	// PublishListPath is the published-article listing endpoint
	PublishListPath = "/cgi-bin/appmsgpublish"

	// HomePath is the landing page after login
	HomePath = "/cgi-bin/home"

	// PageSize is fixed by the listing protocol
	PageSize = 5
)

// PublishListURL constructs the listing URL for one page of an account
func PublishListURL(baseURL, fakeID, token string, page int) string {
	if page < 0 {
		page = 0
	}
	params := url.Values{}
	params.Set("sub", "list")
	params.Set("sub_action", "list_ex")
	params.Set("begin", strconv.Itoa(page*PageSize))
	params.Set("count", strconv.Itoa(PageSize))
	params.Set("fakeid", fakeID)
	params.Set("token", token)
	params.Set("lang", "zh_CN")
	params.Set("f", "json")
	params.Set("ajax", "1")

	return fmt.Sprintf("%s%s?%s", strings.TrimRight(baseURL, "/"), PublishListPath, params.Encode())
}

// HomeURL constructs the authenticated landing page URL
func HomeURL(baseURL, homePath, token string) string {
	if homePath == "" {
		homePath = HomePath
	}
	params := url.Values{}
	params.Set("t", "home/index")
	params.Set("lang", "zh_CN")
	params.Set("token", token)

	return fmt.Sprintf("%s%s?%s", strings.TrimRight(baseURL, "/"), homePath, params.Encode())
}
