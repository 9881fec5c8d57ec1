package redisx

import "fmt"

const ns = "feriago:v1"

func KeyProjectAvailability(projectID string) string {
	return fmt.Sprintf("%s:project:%s:availability", ns, projectID)
}

func KeyProjectList() string {
	return ns + ":projects:list"
}

func KeyRateLimit(scope, id string) string {
	return fmt.Sprintf("%s:rl:%s:%s", ns, scope, id)
}

func ChannelEnrollmentsChanged() string {
	return ns + ":enrollments:changed"
}
