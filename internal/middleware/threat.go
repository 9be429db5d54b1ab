package middleware

import (
	"net/url"

	"github.com/gofiber/fiber/v2"

	"github.com/strukta/bastion/internal/security"
	"github.com/strukta/bastion/internal/threat"
)

// maxScreenedBody caps how much of the request body feeds the
// signature matchers.
const maxScreenedBody = 8 << 10

// ThreatScreen runs every request's signals through the detector and
// rejects those matching a blocking indicator. Advisory indicators pass
// through; they are audited by the orchestrator either way. Registered
// after token auth so signals carry the principal.
func ThreatScreen(core *security.Core) fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Signatures run over the decoded query; percent encoding must
		// not hide injection tokens.
		payload := string(c.Request().URI().QueryString())
		if decoded, err := url.QueryUnescape(payload); err == nil {
			payload = decoded
		}
		if body := c.Body(); len(body) > 0 {
			if len(body) > maxScreenedBody {
				body = body[:maxScreenedBody]
			}
			payload += "\n" + string(body)
		}

		signal := threat.Signal{
			SourceIP:  c.IP(),
			UserAgent: c.Get("User-Agent"),
			Payload:   payload,
		}
		if p := GetPrincipal(c); p != nil {
			signal.ActorID = p.ID
		}

		for _, ind := range core.Detect(c.UserContext(), signal) {
			if ind.Block {
				return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
					"error": "request rejected",
				})
			}
		}
		return c.Next()
	}
}
