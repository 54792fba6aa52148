package bluesky

// Subsets of the app.bsky and com.atproto lexicons used by the adapter.

const (
	collectionPost   = "app.bsky.feed.post"
	collectionLike   = "app.bsky.feed.like"
	collectionRepost = "app.bsky.feed.repost"
	facetLinkType    = "app.bsky.richtext.facet#link"
)

type strongRef struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

type replyRef struct {
	Root   strongRef `json:"root"`
	Parent strongRef `json:"parent"`
}

type facetIndex struct {
	ByteStart int `json:"byteStart"`
	ByteEnd   int `json:"byteEnd"`
}

type facetFeature struct {
	Type string `json:"$type"`
	URI  string `json:"uri"`
}

type facet struct {
	Index    facetIndex     `json:"index"`
	Features []facetFeature `json:"features"`
}

type postRecord struct {
	Type      string    `json:"$type"`
	Text      string    `json:"text"`
	CreatedAt string    `json:"createdAt"`
	Reply     *replyRef `json:"reply,omitempty"`
	Facets    []facet   `json:"facets,omitempty"`
	Langs     []string  `json:"langs,omitempty"`
}

type subjectRecord struct {
	Type      string    `json:"$type"`
	Subject   strongRef `json:"subject"`
	CreatedAt string    `json:"createdAt"`
}

type profileViewBasic struct {
	DID    string `json:"did"`
	Handle string `json:"handle"`
}

type postView struct {
	URI         string           `json:"uri"`
	CID         string           `json:"cid"`
	Author      profileViewBasic `json:"author"`
	Record      postRecord       `json:"record"`
	LikeCount   int64            `json:"likeCount"`
	RepostCount int64            `json:"repostCount"`
	IndexedAt   string           `json:"indexedAt"`
}

type searchPostsOutput struct {
	Cursor string     `json:"cursor,omitempty"`
	Posts  []postView `json:"posts"`
}

type profileViewDetailed struct {
	DID            string `json:"did"`
	Handle         string `json:"handle"`
	FollowersCount int64  `json:"followersCount"`
}

type createRecordInput struct {
	Repo       string `json:"repo"`
	Collection string `json:"collection"`
	Record     any    `json:"record"`
}

type createRecordOutput struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

type searchPostsParams struct {
	Q     string `url:"q"`
	Limit int    `url:"limit,omitempty"`
}

type getProfileParams struct {
	Actor string `url:"actor"`
}
