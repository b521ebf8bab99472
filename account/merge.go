package account

// Merge folds incoming into existing for the same account and returns the
// combined record. Field precedence:
//
//   - PUUID and Auth: incoming always wins.
//   - Username and Region: incoming when non-empty, otherwise existing.
//   - Alerts: union of both, existing order first, duplicates dropped by value.
//   - FailedFetches and LastFetchedAt: existing, since a login is not a fetch.
//   - OwnerID: existing when set.
//
// Because Auth is replaced wholesale, a merged record can never hold both a
// retained password and a pending MFA challenge.
func Merge(existing, incoming Record) Record {
	out := existing.Clone()
	in := incoming.Clone()

	if in.PUUID != "" {
		out.PUUID = in.PUUID
	}
	if in.Auth != nil {
		out.Auth = in.Auth
	}
	if in.Username != "" {
		out.Username = in.Username
	}
	if in.Region != "" {
		out.Region = in.Region
	}
	if out.OwnerID == "" {
		out.OwnerID = in.OwnerID
	}
	out.Alerts = unionAlerts(out.Alerts, in.Alerts)
	return out
}

func unionAlerts(a, b []Alert) []Alert {
	if len(b) == 0 {
		return a
	}
	seen := make(map[Alert]struct{}, len(a)+len(b))
	out := make([]Alert, 0, len(a)+len(b))
	for _, list := range [][]Alert{a, b} {
		for _, al := range list {
			if _, dup := seen[al]; dup {
				continue
			}
			seen[al] = struct{}{}
			out = append(out, al)
		}
	}
	return out
}
