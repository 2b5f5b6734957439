package model

// Content 为按 Kind 区分的封闭内容变体。只有本包内的类型实现它；
// 处理方通过实现 Visitor 穷举所有变体，新增变体时 Visitor 接口随之扩展，
// 所有实现方在编译期即会报错。
type Content interface {
	Kind() Kind
	Accept(v Visitor)
	sealed()
}

// Visitor 对每个内容变体各有一个方法。
type Visitor interface {
	Image(Image)
	Quote(Quote)
	Link(Link)
	Video(Video)
	File(File)
	Review(Review)
	Event(Event)
	Regular(Regular)
	Unrecognized(Unrecognized)
}

// 可选字段用指针表示：nil 即"无"，JSON 中省略。

type Image struct {
	Source      *string `json:"source,omitempty"`
	Description *string `json:"description,omitempty"`
	Media       string  `json:"media"`
}

type Quote struct {
	Body        string `json:"body"`
	Attribution string `json:"attribution"`
}

type Link struct {
	Title string `json:"title"`
	URL   string `json:"url"`
	Body  string `json:"body"`
}

type Video struct {
	Embed string  `json:"embed"`
	Body  *string `json:"body,omitempty"`
}

type File struct {
	Title    *string `json:"title,omitempty"`
	URL      *string `json:"url,omitempty"`
	Body     string  `json:"body"`
	Download string  `json:"download"`
}

type Review struct {
	Embed       *string `json:"embed,omitempty"`
	Description *string `json:"description,omitempty"`
	Rating      string  `json:"rating"`
	Title       string  `json:"title"`
	URL         string  `json:"url"`
}

// Event 的 Calendar 只描述需要抓取的日历地址，抓取由归档层完成。
type Event struct {
	Image       *string `json:"image,omitempty"`
	Title       string  `json:"title"`
	URL         string  `json:"url"`
	Start       string  `json:"start"`
	End         *string `json:"end,omitempty"`
	Location    string  `json:"location"`
	Calendar    string  `json:"calendar"`
	Description *string `json:"description,omitempty"`
}

type Regular struct {
	Title *string `json:"title,omitempty"`
	Body  string  `json:"body"`
}

// Unrecognized 保存未知类型（或抽取失败）帖子的原始标记，保证数据不丢失。
type Unrecognized struct {
	UnknownKind  string  `json:"unknown_kind"`
	Raw          string  `json:"raw"`
	ExtractError *string `json:"extract_error,omitempty"`
}

func (Image) Kind() Kind        { return KindImage }
func (Quote) Kind() Kind        { return KindQuote }
func (Link) Kind() Kind         { return KindLink }
func (Video) Kind() Kind        { return KindVideo }
func (File) Kind() Kind         { return KindFile }
func (Review) Kind() Kind       { return KindReview }
func (Event) Kind() Kind        { return KindEvent }
func (Regular) Kind() Kind      { return KindRegular }
func (Unrecognized) Kind() Kind { return KindUnrecognized }

func (c Image) Accept(v Visitor)        { v.Image(c) }
func (c Quote) Accept(v Visitor)        { v.Quote(c) }
func (c Link) Accept(v Visitor)         { v.Link(c) }
func (c Video) Accept(v Visitor)        { v.Video(c) }
func (c File) Accept(v Visitor)         { v.File(c) }
func (c Review) Accept(v Visitor)       { v.Review(c) }
func (c Event) Accept(v Visitor)        { v.Event(c) }
func (c Regular) Accept(v Visitor)      { v.Regular(c) }
func (c Unrecognized) Accept(v Visitor) { v.Unrecognized(c) }

func (Image) sealed()        {}
func (Quote) sealed()        {}
func (Link) sealed()         {}
func (Video) sealed()        {}
func (File) sealed()         {}
func (Review) sealed()       {}
func (Event) sealed()        {}
func (Regular) sealed()      {}
func (Unrecognized) sealed() {}

// Opt 将空字符串视为"无"。
func Opt(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Fallback 构造回退内容：未知类型或抽取失败时仍保留原始标记。
func Fallback(p Post, err error) Unrecognized {
	u := Unrecognized{UnknownKind: p.Tag, Raw: p.Raw}
	if err != nil {
		u.ExtractError = Opt(err.Error())
	}
	return u
}
