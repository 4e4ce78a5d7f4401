package metadata

import (
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/policyfund-crawler/internal/notice"
)

// DefaultMaxTextRunes bounds the notice text sent to the model.
const DefaultMaxTextRunes = 12000

const truncationMarker = "...(이하 생략)"

const instructions = `너는 대한민국 정책자금 공고문 분석 전문가야.
아래 공고문을 읽고 다음 정보를 추출해서 JSON 객체 하나로만 답해줘. 없는 정보는 null로 표시해.
다른 설명이나 마크다운 없이 순수 JSON만 출력해.

{
  "summary": "공고 내용을 3줄 이내로 요약",
  "region": "지원 대상 지역 (예: '서울', '경기', '전국'). 특정 지역 언급이 없으면 '전국'",
  "biz_age": "지원 대상 업력 (예: '예비창업자', '3년미만', '7년미만', '제한없음')",
  "industry": "지원 대상 업종 (예: '제조업', 'IT/SW', '콘텐츠', '바이오', '무관')",
  "target_group": "특화 대상 (예: '청년', '여성', '장애인', '중장년', '일반')",
  "support_type": "지원 형태 (예: '융자', '보조금', '멘토링', '공간', '교육')",
  "amount": "지원 금액 또는 규모 (예: '최대 5천만원', '미명시')",
  "agency": "주관기관 또는 소관부처",
  "application_period": "신청 기간 (예: '2024.01.01 ~ 2024.01.31', '상시모집')",
  "application_method": "신청 방법 (예: 'K-Startup 사이트 접수', '이메일 접수')",
  "inquiry": "문의처",
  "roadmap_stage": ["선정/신청 절차의 단계 목록, 파악 불가 시 빈 배열"],
  "required_documents_count": 0,
  "required_documents_list": ["필수 제출 서류명 목록 (선택/우대 서류 제외), 파악 불가 시 빈 배열"]
}

required_documents_count는 required_documents_list의 개수와 같아야 해.

공고문:
`

// PlainText reduces an HTML body to whitespace-collapsed text without scripts
// or styles. Plain text input passes through unchanged apart from spacing.
func PlainText(body string) string {
	if !strings.Contains(body, "<") {
		return strings.Join(strings.Fields(body), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return notice.StripTags(body)
	}
	doc.Find("script, style, noscript").Remove()
	return strings.Join(strings.Fields(doc.Text()), " ")
}

// BuildPrompt renders the extraction prompt for one notice. The notice text is
// prefixed with its title and capped at maxRunes.
func BuildPrompt(title, body string, maxRunes int) string {
	if maxRunes <= 0 {
		maxRunes = DefaultMaxTextRunes
	}
	text := PlainText(body)
	if title = strings.TrimSpace(title); title != "" {
		text = "제목: " + title + "\n\n" + text
	}
	if utf8.RuneCountInString(text) > maxRunes {
		text = string([]rune(text)[:maxRunes]) + truncationMarker
	}
	return instructions + text + "\n\nJSON만 응답:"
}
