package scan

import "regexp"

// Rule is a single content pattern identified by a stable ID.
type Rule struct {
	ID      string
	Pattern *regexp.Regexp
}

// Signature is a leading-bytes marker of a native executable or script.
type Signature struct {
	ID    string
	Magic []byte
}

// Rules is the rule table consumed by a Scanner. A Scanner copies what it
// needs at construction, so later changes to a Rules value have no effect on
// scanners already built from it.
type Rules struct {
	// BinaryExtensions are extensions explicitly allowed in archives.
	// Entries with these extensions never trip the dangerous-extension check.
	BinaryExtensions []string

	// TextExtensions are allowed extensions that still receive the full
	// text rule set.
	TextExtensions []string

	// DangerousExtensions are script, executable and configuration extensions
	// refused outright unless also listed in BinaryExtensions.
	DangerousExtensions []string

	// BinaryRules is the narrow set applied to allowed binary entries.
	BinaryRules []Rule

	// MaliciousRules is the marker library applied to everything else.
	MaliciousRules []Rule

	// ScriptOpen detects an opening script tag. DynamicScriptRules only run
	// when it matches.
	ScriptOpen *regexp.Regexp

	// DynamicScriptRules is the stricter set for dangerous extensions.
	DynamicScriptRules []Rule

	// ExecutableSignatures are checked for entries outside BinaryExtensions.
	ExecutableSignatures []Signature
}

func rule(id, pattern string) Rule {
	return Rule{ID: id, Pattern: regexp.MustCompile(pattern)}
}

var (
	defaultBinaryRules = []Rule{
		rule("binary-php-open-tag", `(?i)<\?php`),
		rule("binary-php-short-echo", `(?i)<\?=`),
		rule("binary-eval-call", `(?i)eval\s*\(`),
		rule("binary-exec-call", `(?i)exec\s*\(`),
		rule("binary-system-call", `(?i)system\s*\(`),
	}

	defaultMaliciousRules = []Rule{
		// script tags followed by execution or obfuscation primitives
		rule("php-eval", `(?i)<\?php\s*eval\s*\(`),
		rule("php-exec", `(?i)<\?php\s*exec\s*\(`),
		rule("php-system", `(?i)<\?php\s*system\s*\(`),
		rule("php-shell-exec", `(?i)<\?php\s*shell_exec\s*\(`),
		rule("php-passthru", `(?i)<\?php\s*passthru\s*\(`),
		rule("php-proc-open", `(?i)<\?php\s*proc_open\s*\(`),
		rule("php-popen", `(?i)<\?php\s*popen\s*\(`),
		rule("php-remote-read", `(?i)<\?php\s*file_get_contents\s*\(\s*['"](http|ftp|php|data):`),
		rule("php-remote-write", `(?i)<\?php\s*file_put_contents\s*\(\s*['"]//`),
		rule("php-passwd-write", `(?i)<\?php\s*file_put_contents\s*\(\s*['"]/etc/passwd`),
		rule("php-base64-decode", `(?i)<\?php\s*base64_decode\s*\(`),
		rule("php-gzinflate", `(?i)<\?php\s*gzinflate\s*\(`),
		rule("php-str-rot13", `(?i)<\?php\s*str_rot13\s*\(`),
		rule("php-assert", `(?i)<\?php\s*assert\s*\(`),
		rule("php-create-function", `(?i)<\?php\s*create_function\s*\(`),
		rule("php-superglobal", `(?i)<\?php\s*\$_(GET|POST|COOKIE|REQUEST|FILES|SERVER)\[`),
		rule("silenced-eval", `(?i)@eval\s*\(`),
		rule("silenced-assert", `(?i)@assert\s*\(`),

		// known web shells
		rule("webshell-c99", `(?i)c99shell`),
		rule("webshell-r57", `(?i)r57shell`),
		rule("webshell-wso", `(?i)WSO\s*Shell`),
		rule("webshell-phpshell", `(?i)PHPShell`),
		rule("webshell-crystal", `(?i)Crystal\s*Shell`),

		// backdoors
		rule("backdoor-marker", `(?i)backdoor`),
		rule("backdoor-backconnect", `(?i)backconnect`),
		rule("backdoor-cmd-php", `(?i)cmd\.php`),
		rule("backdoor-shell-php", `(?i)shell\.php`),
		rule("backdoor-hack-php", `(?i)hack\.php`),
		rule("backdoor-bypass-php", `(?i)bypass\.php`),
	}

	defaultScriptOpen = regexp.MustCompile(`(?i)<\?php|<\?=`)

	defaultDynamicScriptRules = []Rule{
		rule("script-request-input", `(?i)\$_GET|\$_POST|\$_COOKIE|\$_REQUEST`),
		rule("script-eval", `(?i)eval\s*\(`),
		rule("script-exec", `(?i)exec\s*\(`),
		rule("script-system", `(?i)system\s*\(`),
		rule("script-shell-exec", `(?i)shell_exec\s*\(`),
		rule("script-passthru", `(?i)passthru\s*\(`),
		rule("script-proc-open", `(?i)proc_open\s*\(`),
		rule("script-popen", `(?i)popen\s*\(`),
		rule("script-remote-read", `(?i)file_get_contents\s*\(\s*['"](http|ftp|data):`),
		rule("script-curl-exec", `(?i)curl_exec\s*\(`),
		rule("script-remote-open", `(?i)fopen\s*\(\s*['"](http|ftp|php|data):`),
	}
)

// DefaultRules returns the built-in rule table.
func DefaultRules() Rules {
	return Rules{
		BinaryExtensions: []string{
			"exe", "dll", "bin", "dat", "ini", "txt", "xml", "zip", "u", "int", "ttf",
			"pak", "l2", "sys", "cfg", "log", "bak", "tmp", "cache", "idx", "grp",
			"pck", "ukx", "ifr", "htm", "unr", "ogg", "uax", "usx", "utx", "bmp", "ddf",
			"des", "ffe", "gly", "vxd", "dmp", "xdat", "i64", "bm", "ugx",
		},
		TextExtensions: []string{"txt", "xml", "htm", "ini", "cfg", "log", "bak", "dat"},
		DangerousExtensions: []string{
			"php", "php3", "php4", "php5", "phtml", "phps",
			"bat", "cmd", "com", "pif", "scr", "vbs", "js",
			"sh", "bash", "zsh", "csh", "ksh", "fish",
			"ps1", "psm1", "psd1", "ps1xml",
			"py", "pyc", "pyw", "pyo", "pyd",
			"rb", "rbw",
			"pl", "pm", "cgi",
			"asp", "aspx", "ashx", "asmx",
			"jsp", "jspx", "jspf",
			"jar", "war", "ear",
			"run", "deb", "rpm",
			"app", "dmg", "pkg",
			"msi", "msm", "msp",
			"so", "dylib",
			"htaccess", "htpasswd",
			"conf", "config",
			"sql", "db", "sqlite", "sqlite3",
			"git", "svn",
		},
		BinaryRules:        append([]Rule(nil), defaultBinaryRules...),
		MaliciousRules:     append([]Rule(nil), defaultMaliciousRules...),
		ScriptOpen:         defaultScriptOpen,
		DynamicScriptRules: append([]Rule(nil), defaultDynamicScriptRules...),
		ExecutableSignatures: []Signature{
			{ID: "pe-executable", Magic: []byte{0x4D, 0x5A}},
			{ID: "elf-executable", Magic: []byte{0x7F, 0x45, 0x4C, 0x46}},
			{ID: "macho-executable", Magic: []byte{0xFE, 0xED, 0xFA}},
			{ID: "shebang-script", Magic: []byte("#!")},
		},
	}
}
