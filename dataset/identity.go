package dataset

// identityAttributes lists, per entity type, the attributes that identify
// one entity when no unique id is available. The first entry is also the
// main attribute a bare string literal is assigned to.
var identityAttributes = map[string][]string{
	"process":              {"pid", "name"},
	"file":                 {"name", "parent_directory_ref.path"},
	"directory":            {"path"},
	"network-traffic":      {"src_ref.value", "src_port", "dst_ref.value", "dst_port", "protocols"},
	"ipv4-addr":            {"value"},
	"ipv6-addr":            {"value"},
	"mac-addr":             {"value"},
	"domain-name":          {"value"},
	"url":                  {"value"},
	"email-addr":           {"value"},
	"user-account":         {"user_id", "account_login"},
	"software":             {"name", "version"},
	"windows-registry-key": {"key"},
	"x-oca-event":          {"id"},
}

// IdentityAttributes returns the identifying attributes of entityType.
// Unknown types are identified by their value attribute.
func IdentityAttributes(entityType string) []string {
	if attrs, ok := identityAttributes[entityType]; ok {
		return attrs
	}
	return []string{"value"}
}

// MainAttribute is the attribute a bare string literal of entityType sets.
func MainAttribute(entityType string) string {
	return IdentityAttributes(entityType)[0]
}

// IDAttribute returns "id" when every record carries one, else the first
// identity attribute of the dataset's type that every record carries, or
// "" when none qualifies.
func (d *Dataset) IDAttribute() string {
	candidates := append([]string{"id"}, IdentityAttributes(d.EntityType)...)
	for _, c := range candidates {
		if d.everyRecordHas(c) {
			return c
		}
	}
	return ""
}

func (d *Dataset) everyRecordHas(path string) bool {
	if len(d.Records) == 0 {
		return false
	}
	for _, r := range d.Records {
		if v, ok := r[path]; !ok || v == nil {
			return false
		}
	}
	return true
}
