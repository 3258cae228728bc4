package config

// DefaultRetrievalFile returns the built-in retrieval tuning data: English
// and Hungarian scope patterns, the area alias and domain keyword tables,
// and the follow-up token list. Deployments override any section through the
// retrieval YAML; cluster seeds always come from the file.
//
// Hungarian patterns deliberately avoid \b: Go's word boundary is
// ASCII-only and fails next to accented letters, so the Hungarian lists
// match on stems instead.
func DefaultRetrievalFile() *RetrievalFile {
	return &RetrievalFile{
		Languages: []LanguagePack{
			{
				Code: "en",
				Micro: []string{
					`\b(turn|switch|flip)\s+(on|off)\b`,
					`\bis\s+the\s+[\w\s]+\s+(on|off|open|closed|locked)\b`,
					`\b(dim|brighten)\b`,
					`\bset\s+the\b`,
					`\bwhat(?:'s|\s+is)\s+the\s+(temperature|humidity|state|status|value)\s+of\b`,
					`\b(lock|unlock)\s+the\b`,
					`\b(open|close)\s+the\b`,
					`\bhow\s+(warm|cold|hot)\s+is\b`,
					`\bthermostat\b`,
				},
				Macro: []string{
					`\bin\s+the\s+(living\s*room|bedroom|kitchen|bathroom|office|garage|garden|hallway|basement|attic)\b`,
					`\b(living\s*room|bedroom|kitchen|bathroom|office|garage|hallway)\b`,
					`\bwhat(?:'s|\s+is)\s+(on|happening|going\s+on)\s+in\b`,
					`\b(devices|lights|sensors)\s+in\b`,
					`\bwhich\s+(lights|devices|sensors)\b`,
					`\bthis\s+room\b`,
					`\b(upstairs|downstairs)\b`,
				},
				Overview: []string{
					`\b(all|every)\s+(light|lights|device|devices|sensor|sensors|door|doors|window|windows)\b`,
					`\beverything\b`,
					`\bwhole\s+(house|home|apartment|flat)\b`,
					`\bentire\s+(house|home)\b`,
					`\b(house|home)\s+status\b`,
					`\b(overview|summary)\b`,
					`\bhow\s+many\b`,
					`\banything\s+(on|open|unlocked)\b`,
					`\bleft\s+(on|open)\b`,
				},
				Control: []string{
					`\b(turn|switch|flip)\s+(on|off)\b`,
					`\bset\b`,
					`\b(dim|brighten)\b`,
					`\b(lock|unlock)\b`,
					`\b(open|close)\b`,
					`\b(start|stop|pause)\b`,
					`\b(activate|deactivate)\b`,
				},
			},
			{
				Code: "hu",
				Micro: []string{
					`kapcsold\s+(fel|le|be|ki)`,
					`kapcsolja\s+(fel|le|be|ki)`,
					`hőmérséklet`,
					`páratartalom`,
					`mennyi\s+a\s`,
					`állítsd\s+be`,
					`(zárd|nyisd)\s`,
					`(indítsd|állítsd)\s+(el|le)`,
					`milyen\s+(meleg|hideg)`,
					`ég\s+a\s`,
				},
				Macro: []string{
					`nappali`,
					`konyh`,
					`hálószob`,
					`fürdőszob`,
					`előszob`,
					`iroda`,
					`garázs`,
					`(szobában|teremben)`,
					`mi\s+van\s+a\s`,
					`mi\s+történik`,
				},
				Overview: []string{
					`minden`,
					`összes`,
					`egész\s+(ház|lakás|otthon)`,
					`áttekintés`,
					`összefoglal`,
					`hány\s`,
					`nyitva\s+maradt`,
					`égve\s+maradt`,
				},
				Control: []string{
					`(kapcsold|kapcsolja)`,
					`(állítsd|állítsa)`,
					`(zárd|zárja)`,
					`(nyisd|nyissa)`,
					`(indítsd|indítsa)`,
					`húzd\s+(fel|le)`,
				},
			},
		},
		AreaAliases: map[string][]string{
			"garden":      {"garden", "outside", "yard", "kert", "udvar"},
			"living_room": {"living room", "livingroom", "lounge", "nappali"},
			"kitchen":     {"kitchen", "konyha", "konyhá"},
			"bedroom":     {"bedroom", "hálószoba", "hálószobá"},
			"bathroom":    {"bathroom", "fürdőszoba", "fürdőszobá"},
			"office":      {"office", "study", "iroda", "irodá"},
			"garage":      {"garage", "garázs"},
			"hallway":     {"hallway", "corridor", "előszoba", "előszobá", "folyosó"},
		},
		DomainKeywords: map[string][]string{
			"light":        {"light", "lamp", "brightness", "dim", "lámp", "világít", "fény"},
			"sensor":       {"temperature", "humidity", "sensor", "reading", "hőmérséklet", "páratartalom", "érzékelő"},
			"climate":      {"thermostat", "heating", "cooling", "climate", "fűtés", "hűtés", "klíma", "termosztát"},
			"switch":       {"switch", "plug", "outlet", "socket", "konnektor", "kapcsoló"},
			"cover":        {"blind", "curtain", "shutter", "cover", "redőny", "függöny", "roló"},
			"lock":         {"lock", "unlock", "zár", "lakat"},
			"media_player": {"tv", "television", "music", "speaker", "media", "zene", "tévé", "hangszóró"},
			"camera":       {"camera", "kamera"},
			"vacuum":       {"vacuum", "robot", "porszívó"},
		},
		FollowUpWords: []string{"and", "also", "too", "és", "es", "is", "még", "meg"},
	}
}
