// Package notice models policy-funding notices discovered on portal list pages:
// identifier extraction, title cleanup, and detail/search URL resolution.
package notice

// Source site tags stored alongside every record.
const (
	SourceKStartup = "K-STARTUP"
	SourceBizinfo  = "BIZINFO"
)

// Item is one notice discovered on a list page. It lives for a single run and is
// folded into a PolicyRecord before persistence.
type Item struct {
	NoticeID  string `json:"notice_id"`
	Title     string `json:"title"`
	DetailURL string `json:"detail_url"`
	RawLink   string `json:"raw_link"`
	Source    string `json:"source"`
}

// Key returns the natural key value of the item for the given key column.
func (it Item) Key(column string) string {
	if column == "title" {
		return it.Title
	}
	return it.NoticeID
}

// PolicyRecord is the persisted shape of a notice after metadata extraction.
type PolicyRecord struct {
	Title      string `json:"title"`
	SourceSite string `json:"source_site"`
	NoticeID   string `json:"notice_id,omitempty"`
	Link       string `json:"link"`
	URL        string `json:"url"`

	Summary           *string `json:"content_summary"`
	Region            *string `json:"region"`
	BizAge            *string `json:"biz_age"`
	Industry          *string `json:"industry"`
	TargetGroup       *string `json:"target_group"`
	SupportType       *string `json:"support_type"`
	Amount            *string `json:"amount"`
	Agency            *string `json:"agency"`
	ApplicationPeriod *string `json:"application_period"`
	ApplicationMethod *string `json:"application_method"`
	Inquiry           *string `json:"inquiry"`

	RoadmapStage           []string `json:"roadmap_stage"`
	RequiredDocumentsCount int      `json:"required_documents_count"`
	RequiredDocumentsList  []string `json:"required_documents_list"`

	RawContent    string `json:"raw_content,omitempty"`
	ArchiveURI    string `json:"archive_uri,omitempty"`
	AnalysisError string `json:"analysis_error,omitempty"`
}

// Key returns the natural key value of the record for the given key column.
func (r PolicyRecord) Key(column string) string {
	if column == "title" {
		return r.Title
	}
	return r.NoticeID
}
