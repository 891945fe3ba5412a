package datasource

// edge links a subject entity type to an object entity type under a
// relation. attr is the reference attribute that holds the link; it sits
// on the subject when onSubject is set, otherwise on the object.
type edge struct {
	subject   string
	relation  string
	object    string
	attr      string
	onSubject bool
}

var edges = []edge{
	{"process", "created", "process", "child_refs", true},
	{"process", "created", "process", "parent_ref", false},
	{"process", "created", "network-traffic", "opened_connection_refs", true},
	{"process", "loaded", "file", "binary_ref", true},
	{"process", "opened", "network-traffic", "opened_connection_refs", true},
	{"user-account", "owned", "process", "creator_user_ref", false},
	{"directory", "contained", "file", "parent_directory_ref", false},
	{"directory", "contained", "directory", "contains_refs", true},
	{"network-traffic", "linked", "ipv4-addr", "src_ref", true},
	{"network-traffic", "linked", "ipv4-addr", "dst_ref", true},
	{"network-traffic", "linked", "ipv6-addr", "src_ref", true},
	{"network-traffic", "linked", "ipv6-addr", "dst_ref", true},
	{"network-traffic", "accepted", "ipv4-addr", "dst_ref", true},
	{"email-message", "linked", "email-addr", "from_ref", true},
	{"email-message", "linked", "email-addr", "to_refs", true},
}

func findEdges(subject, relation, object string) []edge {
	var out []edge
	for _, e := range edges {
		if e.subject == subject && e.relation == relation && e.object == object {
			out = append(out, e)
		}
	}
	return out
}
