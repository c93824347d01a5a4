package rbac

// Default policy for the grading engine roles.
var RolePermissions = map[string][]string{
	"student": {
		"exam:view",
		"attempt:create",
		"attempt:submit",
		"attempt:report",
		"attempt:view-own",
	},
	"educator": {
		"exam:create",
		"exam:view",
		"exam:view-full",
		"attempt:view-all",
		"attempt:override",
		"plagiarism:scan",
	},
	"admin": {
		"*", // everything
	},
}
