package botdetect

// Signature groups, checked in this order. The first matching token is
// reported as the verdict signature. Tokens are lower case.
var (
	automationSignatures = []string{
		"headless",
		"selenium",
		"webdriver",
		"playwright",
		"puppeteer",
		"phantomjs",
		"bot",
		"crawler",
		"spider",
		"scraper",
	}

	httpClientSignatures = []string{
		"curl",
		"wget",
		"python-requests",
		"python-urllib",
		"go-http-client",
		"java/",
		"okhttp",
		"axios",
		"node-fetch",
		"httpie",
		"postman",
		"libwww-perl",
		"scrapy",
		"aiohttp",
		"httpx",
	}

	crawlerSignatures = []string{
		"googlebot",
		"bingbot",
		"yandexbot",
		"baiduspider",
		"duckduckbot",
		"slurp",
		"facebookexternalhit",
		"twitterbot",
		"linkedinbot",
		"slackbot",
		"discordbot",
		"telegrambot",
		"whatsapp",
		"applebot",
		"gptbot",
		"claudebot",
		"ccbot",
		"bytespider",
		"amazonbot",
		"petalbot",
		"semrushbot",
		"ahrefsbot",
	}
)

// DefaultSignatures returns the full ordered signature list.
func DefaultSignatures() []string {
	out := make([]string, 0, len(automationSignatures)+len(httpClientSignatures)+len(crawlerSignatures))
	out = append(out, automationSignatures...)
	out = append(out, httpClientSignatures...)
	out = append(out, crawlerSignatures...)
	return out
}
