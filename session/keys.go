package session

// DefaultNamespace prefixes every key written by a [Repository].
const DefaultNamespace = "gosession:session:"

type keyspace struct {
	namespace string
}

func newKeyspace(namespace string) keyspace {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return keyspace{namespace: namespace}
}

func (k keyspace) sessionKey(sessionID string) string {
	return k.namespace + "sessions:" + sessionID
}

func (k keyspace) expiresKey(sessionID string) string {
	return k.namespace + "sessions:expires:" + sessionID
}

func (k keyspace) expirationsKey() string {
	return k.namespace + "sessions:expirations"
}

func (k keyspace) principalKey(principalName string) string {
	return k.namespace + "index:" + PrincipalNameIndexName + ":" + principalName
}
