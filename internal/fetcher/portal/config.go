package portal

import "time"

// Portal defaults mirror the live result site.
const (
	DefaultURL               = "http://result.rgpv.ac.in/Result/ProgramSelect.aspx"
	DefaultProgramSelector   = "#radlstProgram_1"
	DefaultNavigationTimeout = 90 * time.Second
	DefaultSettleDelay       = 2 * time.Second

	NotFoundMessage       = "Result for this Enrollment No. not Found"
	InvalidCaptchaMessage = "Invalid CAPTCHA"
)

// Selectors locates the form controls and result fields on the portal pages.
type Selectors struct {
	Program      string
	RollInput    string
	Semester     string
	CaptchaImage string
	CaptchaInput string
	Submit       string
	Error        string
	ResultPanel  string
	GradeTables  string
	Name         string
	Branch       string
	SGPA         string
	CGPA         string
	Result       string
}

// DefaultSelectors returns the ASP.NET control IDs used by the portal.
func DefaultSelectors() Selectors {
	return Selectors{
		Program:      DefaultProgramSelector,
		RollInput:    "#ctl00_ContentPlaceHolder1_txtrollno",
		Semester:     "#ctl00_ContentPlaceHolder1_drpSemester",
		CaptchaImage: `img[src*="CaptchaImage.axd"]`,
		CaptchaInput: "#ctl00_ContentPlaceHolder1_TextBox1",
		Submit:       "#ctl00_ContentPlaceHolder1_btnviewresult",
		Error:        "#ctl00_ContentPlaceHolder1_lblError",
		ResultPanel:  "#ctl00_ContentPlaceHolder1_pnlGrading",
		GradeTables:  "#ctl00_ContentPlaceHolder1_pnlGrading .gridtable",
		Name:         "#ctl00_ContentPlaceHolder1_lblNameGrading",
		Branch:       "#ctl00_ContentPlaceHolder1_lblBranchGrading",
		SGPA:         "#ctl00_ContentPlaceHolder1_lblSGPA",
		CGPA:         "#ctl00_ContentPlaceHolder1_lblcgpa",
		Result:       "#ctl00_ContentPlaceHolder1_lblResultNewGrading",
	}
}

// Config controls the portal session.
type Config struct {
	URL               string
	Selectors         Selectors
	NavigationTimeout time.Duration
	SettleDelay       time.Duration
	Headless          bool
	UserAgent         string
}

func (c Config) withDefaults() Config {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	def := DefaultSelectors()
	if c.Selectors == (Selectors{}) {
		c.Selectors = def
	} else if c.Selectors.Program == "" {
		c.Selectors.Program = def.Program
	}
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = DefaultNavigationTimeout
	}
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	}
	return c
}
