package workload

// Universe is the default instrument set, roughly the S&P 500 plus recent
// large listings. Its tail is the hot set shared by every worker.
var Universe = []string{
	"AAPL", "MSFT", "NVDA", "AMZN", "META", "GOOGL", "TSLA", "BRK.B", "JPM", "V",
	"UNH", "XOM", "LLY", "MA", "JNJ", "PG", "HD", "CVX", "MRK", "ABBV",
	"KO", "PEP", "AVGO", "COST", "WMT", "BAC", "CRM", "NFLX", "AMD", "ORCL",
	"TMO", "ACN", "CSCO", "ADBE", "ABT", "DIS", "WFC", "MCD", "VZ", "INTC",
	"INTU", "AMGN", "IBM", "GE", "CAT", "BA", "GS", "AXP", "NOW", "QCOM",
	"SPGI", "C", "DHR", "TXN", "RTX", "AMAT", "PM", "LOW", "BMY", "MS",
	"SCHW", "UNP", "HON", "BLK", "LMT", "NEE", "BKNG", "ELV", "SYK", "PLD",
	"DE", "T", "GILD", "CB", "MDT", "AMT", "MMC", "VRTX", "SBUX", "REGN",
	"ADI", "CI", "MO", "SO", "ZTS", "ISRG", "PGR", "LRCX", "BDX", "TJX",
	"FI", "CME", "DUK", "PYPL", "SLB", "NOC", "USB", "ETN", "BSX", "APD",
	"MMM", "NSC", "EQIX", "EOG", "ICE", "CSX", "AON", "WM", "CL", "ITW",
	"MCK", "HCA", "PNC", "EMR", "APH", "GM", "MU", "F", "TGT", "KLAC",
	"SHW", "PSA", "ADP", "MSI", "GD", "TT", "MAR", "SNPS", "HUM", "FCX",
	"NXPI", "CDNS", "ORLY", "ROP", "AJG", "ADSK", "MNST", "MCO", "AIG", "COF",
	"AZO", "CCI", "AFL", "CMG", "TDG", "KMB", "CARR", "D", "FDX", "TEL",
	"DHI", "TRV", "WELL", "CPRT", "MPC", "CTAS", "JCI", "HLT", "AMP", "PSX",
	"LHX", "PAYX", "SRE", "FICO", "O", "ALL", "NEM", "IQV", "AME", "LEN",
	"KMI", "A", "VRSK", "PCG", "CMI", "DLR", "FAST", "PRU", "GWW", "KR",
	"YUM", "CTVA", "EXC", "KHC", "EW", "PH", "DD", "IDXX", "BK", "EXR",
	"GLW", "PWR", "SPG", "RSG", "ODFL", "ED", "WMB", "XEL", "VLO", "RMD",
	"ROK", "DOV", "TROW", "HIG", "HWM", "EFX", "PPG", "VICI", "IT", "CBRE",
	"IR", "KVUE", "AVB", "MLM", "VMC", "AXON", "DAL", "MPWR", "MTD", "WEC",
	"WAB", "URI", "GPN", "ACGL", "ANSS", "ROST", "KEYS", "MTB", "HAL", "EBAY",
	"XYL", "WTW", "HPQ", "FTV", "ETR", "CHD", "BAX", "DOW", "BR", "GEHC",
	"TTWO", "STZ", "AWK", "FITB", "DTE", "CDW", "EIX", "IFF", "TSCO", "LYB",
	"AEE", "TYL", "DFS", "ES", "HBAN", "CAH", "VTR", "SYY", "APTV", "GRMN",
	"ZBH", "SBAC", "NVR", "TDY", "FANG", "PKI", "INVH", "RF", "EXPE", "GIS",
	"WBD", "ARE", "DGX", "STT", "HPE", "MKC", "K", "CNP", "IP", "LDOS",
	"NTRS", "VRSN", "LUV", "CINF", "FE", "WST", "UAL", "SWK", "PODD", "ZBRA",
	"TRMB", "CCL", "CF", "MAS", "HOLX", "AMCR", "MOH", "COO", "PFG", "J",
	"NDAQ", "CLX", "IEX", "LH", "LNT", "TER", "CHRW", "CTRA", "ATO", "CBOE",
	"DRI", "CMS", "WRB", "EXPD", "STE", "AKAM", "WAT", "JBHT", "EVRG", "POOL",
	"LVS", "CPT", "JKHY", "EQR", "BBY", "CFG", "EPAM", "ULTA", "MAA", "BG",
	"KIM", "BALL", "SWKS", "INCY", "MRO", "HSY", "JNPR", "CAG", "EMN", "TECH",
	"HSIC", "TXT", "CRL", "UDR", "CTLT", "SNA", "ESS", "REG", "CE", "VTRS",
	"OKE", "AVY", "NDSN", "PAYC", "PEAK", "BXP", "PNR", "WDC", "RJF", "BRO",
	"HII", "OMC", "AES", "ALGN", "LKQ", "TAP", "IPG", "ALLE", "CPB", "TPR",
	"HRL", "FFIV", "AIZ", "MKTX", "GL", "NI", "BBWI", "FOXA", "GNRC", "IVZ",
	"DXC", "PNW", "SEE", "BEN", "LW", "AAL", "FRT", "AOS", "CZR", "ALB",
	"UHS", "WYNN", "HAS", "RL", "NWS", "MHK", "PARA", "NWSA", "VFC", "WHR",
	"BF.B", "NRG", "ZION", "BWA", "DVA", "NCLH", "DISH", "FMC", "PHM", "DVN",
	"TFX", "MTCH", "MGM", "MOS", "AAP", "ROL", "QRVO", "LEG", "PENN", "HES",
	"CMA", "UAA", "XRAY", "FOX", "KMX", "ALK", "ETSY", "RHI", "NWL", "PVH",
	"HBI", "GPS", "NOV", "FBHS", "VNO", "SLG", "NLSN", "IRM", "HST", "AIV",
	"APA", "LYV", "ENPH", "SMCI", "RIVN", "LCID", "PLTR", "SNOW", "COIN", "RBLX",
	"U", "HOOD", "SOFI", "PANW", "CRWD", "ZS", "DDOG", "NET", "WDAY", "TEAM",
	"ZM", "DOCU", "OKTA", "MDB", "FTNT", "DT", "BILL", "S", "PATH", "DKNG",
	"ABNB", "DASH", "LYFT", "UBER", "DEI", "CSGP", "PGRE", "CUZ", "BDN", "PDM",
	"SUI", "ELS", "LSI", "STAG", "FR", "CUBE", "NSA", "PSB", "REXR", "EGP",
	"TRNO", "VRE", "KRG", "UE",
}

// HotCount is how many instruments at the end of Universe are hot.
const HotCount = 44
