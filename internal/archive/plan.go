package archive

import "go-soup-backup/internal/model"

// planner 以 Visitor 穷举内容变体，得出每个帖子需要的附加产物。
type planner struct {
	assets []assetPlan
	texts  []textPlan
}

type assetPlan struct {
	name string
	url  string
}

// textPlan 为内容寻址的文本产物（无稳定远端名称的 quote/link）。
type textPlan struct {
	name string
	body []byte
}

func planFor(c model.Content) planner {
	var p planner
	c.Accept(&p)
	return p
}

func (p *planner) asset(prefix, url string) {
	if url == "" {
		return
	}
	p.assets = append(p.assets, assetPlan{name: AssetName(prefix, url), url: url})
}

func (p *planner) Image(c model.Image) { p.asset("image", c.Media) }

func (p *planner) Quote(c model.Quote) {
	p.texts = append(p.texts, textPlan{
		name: "quote_" + Digest(c.Body, c.Attribution) + ".txt",
		body: []byte(c.Body + "\n\n-- " + c.Attribution + "\n"),
	})
}

func (p *planner) Link(c model.Link) {
	p.texts = append(p.texts, textPlan{
		name: "link_" + Digest(c.Title, c.URL, c.Body) + ".txt",
		body: []byte(c.Title + "\n" + c.URL + "\n\n" + c.Body + "\n"),
	})
}

func (p *planner) Video(model.Video) {}

func (p *planner) File(c model.File) { p.asset("file", c.Download) }

func (p *planner) Review(model.Review) {}

func (p *planner) Event(c model.Event) {
	p.asset("event", c.Calendar)
	if c.Image != nil {
		p.asset("event", *c.Image)
	}
}

func (p *planner) Regular(model.Regular) {}

func (p *planner) Unrecognized(model.Unrecognized) {}
