package repository

// 論理キーレイアウト。ストア実装に依存しない。
const (
	userKeyPrefix     = "user:"
	taskmapKeyPrefix  = "taskmap:"
	snapshotKeyPrefix = "sync-snapshot:"
	sessionKeyPrefix  = "session:"
)

// userKey は user:<id> を構築する。
func userKey(id string) string {
	return userKeyPrefix + id
}

// mappingSyncKey は taskmap:<userId>:sync:<syncId> を構築する。
func mappingSyncKey(userID, syncID string) string {
	return taskmapKeyPrefix + userID + ":sync:" + syncID
}

// mappingRemoteKey は taskmap:<userId>:google:<remoteId> を構築する。
func mappingRemoteKey(userID, remoteID string) string {
	return taskmapKeyPrefix + userID + ":google:" + remoteID
}

// snapshotKey は sync-snapshot:<userId> を構築する。
func snapshotKey(userID string) string {
	return snapshotKeyPrefix + userID
}

// sessionKey は session:<id> を構築する。
func sessionKey(id string) string {
	return sessionKeyPrefix + id
}
