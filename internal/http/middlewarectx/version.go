package middlewarectx

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/magabrotheeeer/plugin-licensing/internal/config"
)

const sunsetLayout = "2006-01-02"

// APIVersion stamps X-API-Version on every reply and, for a deprecated
// version, the deprecation headers with the days left until sunset.
func APIVersion(v config.APIVersion, now func() time.Time) func(http.Handler) http.Handler {
	if now == nil {
		now = time.Now
	}
	sunset, sunsetErr := time.Parse(sunsetLayout, v.SunsetDate)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-API-Version", v.Name)
			if v.Deprecated {
				h.Set("X-API-Deprecated", "true")
				if sunsetErr == nil {
					h.Set("X-API-Sunset-Date", v.SunsetDate)
					days := int(math.Ceil(sunset.Sub(now()).Hours() / 24))
					if days < 0 {
						days = 0
					}
					h.Set("X-API-Days-Until-Sunset", strconv.Itoa(days))
				}
				if v.MigrationGuide != "" {
					h.Set("X-API-Migration-Guide", v.MigrationGuide)
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
